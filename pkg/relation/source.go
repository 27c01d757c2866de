// Copyright 2024-2025 lanedb
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package relation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/lanedb/pipejoin/pkg/chunk"
)

// Source feeds depth 0 of a pipeline. Read is position based and has
// no hidden cursor: the same (pos, len(out)) request always returns
// the same rows, which is what makes resumed launches deterministic.
type Source interface {
	ColumnCount() int
	Read(pos uint64, out []chunk.Row) (n int, eof bool, err error)
}

// SliceSource serves rows out of memory. Tests and the inner sides
// loaded by the CLI both go through it.
type SliceSource struct {
	_colCnt int
	_rows   []chunk.Row
}

func NewSliceSource(colCnt int, rows []chunk.Row) *SliceSource {
	return &SliceSource{_colCnt: colCnt, _rows: rows}
}

func SourceFromRelation(rel *Relation) *SliceSource {
	rows := make([]chunk.Row, 0, rel.Count())
	for id := uint64(0); id < rel.Count(); id++ {
		if !rel.IsDeleted(id) {
			rows = append(rows, rel.Row(id))
		}
	}
	return &SliceSource{_colCnt: rel.ColumnCount(), _rows: rows}
}

func (src *SliceSource) ColumnCount() int {
	return src._colCnt
}

func (src *SliceSource) Read(pos uint64, out []chunk.Row) (int, bool, error) {
	total := uint64(len(src._rows))
	if pos >= total {
		return 0, true, nil
	}
	n := 0
	for n < len(out) && pos+uint64(n) < total {
		out[n] = src._rows[pos+uint64(n)]
		n++
	}
	return n, pos+uint64(n) >= total, nil
}

// LoadCSV reads the whole file into a relation. Field types are
// inferred per value: int, then float, then string.
func LoadCSV(name string, path string) (*Relation, error) {
	dataFile, err := os.OpenFile(path, os.O_RDONLY, 0755)
	if err != nil {
		return nil, err
	}
	defer dataFile.Close()

	reader := csv.NewReader(dataFile)
	reader.Comma = ','
	reader.FieldsPerRecord = -1

	var rel *Relation
	for {
		line, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if rel == nil {
			rel = NewRelation(name, len(line))
		}
		if len(line) != rel.ColumnCount() {
			return nil, fmt.Errorf("csv %s: line has %d fields, want %d",
				path, len(line), rel.ColumnCount())
		}
		row := make(chunk.Row, len(line))
		for i, field := range line {
			row[i] = fieldToValue(field)
		}
		if err = rel.AppendRow(row); err != nil {
			return nil, err
		}
	}
	if rel == nil {
		return nil, fmt.Errorf("csv %s: empty file", path)
	}
	return rel, nil
}

func fieldToValue(field string) chunk.Value {
	if field == "" {
		return chunk.NullValue()
	}
	if i, err := strconv.ParseInt(field, 10, 64); err == nil {
		return chunk.IntValue(i)
	}
	if f, err := strconv.ParseFloat(field, 64); err == nil {
		return chunk.FloatValue(f)
	}
	return chunk.StringValue(field)
}

// LoadRelation dispatches on the configured format.
func LoadRelation(name string, path string, format string) (*Relation, error) {
	switch format {
	case "csv", "":
		return LoadCSV(name, path)
	case "parquet":
		return LoadParquet(name, path)
	default:
		return nil, fmt.Errorf("unsupported source format %q", format)
	}
}
