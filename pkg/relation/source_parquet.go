package relation

import (
	"errors"
	"fmt"
	"io"

	pqLocal "github.com/xitongsys/parquet-go-source/local"
	pqReader "github.com/xitongsys/parquet-go/reader"

	"github.com/lanedb/pipejoin/pkg/chunk"
)

const pqBatchSize = 4096

// LoadParquet reads the whole file into a relation, column by column.
func LoadParquet(name string, path string) (*Relation, error) {
	pqFile, err := pqLocal.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer pqFile.Close()

	rd, err := pqReader.NewParquetColumnReader(pqFile, 1)
	if err != nil {
		return nil, err
	}
	defer rd.ReadStop()

	colCnt := len(rd.SchemaHandler.ValueColumns)
	if colCnt == 0 {
		return nil, fmt.Errorf("parquet %s: no columns", path)
	}
	rowCnt := int(rd.GetNumRows())

	cols := make([][]chunk.Value, colCnt)
	for j := 0; j < colCnt; j++ {
		cols[j] = make([]chunk.Value, 0, rowCnt)
		for len(cols[j]) < rowCnt {
			want := rowCnt - len(cols[j])
			if want > pqBatchSize {
				want = pqBatchSize
			}
			values, _, _, err := rd.ReadColumnByIndex(int64(j), int64(want))
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, err
			}
			if len(values) == 0 {
				break
			}
			for _, v := range values {
				cols[j] = append(cols[j], parquetColToValue(v))
			}
		}
		if len(cols[j]) != rowCnt {
			return nil, fmt.Errorf("parquet %s: column %d has %d values, want %d",
				path, j, len(cols[j]), rowCnt)
		}
	}

	rel := NewRelation(name, colCnt)
	for i := 0; i < rowCnt; i++ {
		row := make(chunk.Row, colCnt)
		for j := 0; j < colCnt; j++ {
			row[j] = cols[j][i]
		}
		if err = rel.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return rel, nil
}

func parquetColToValue(field any) chunk.Value {
	switch v := field.(type) {
	case nil:
		return chunk.NullValue()
	case bool:
		return chunk.BoolValue(v)
	case int32:
		return chunk.IntValue(int64(v))
	case int64:
		return chunk.IntValue(v)
	case float32:
		return chunk.FloatValue(float64(v))
	case float64:
		return chunk.FloatValue(v)
	case string:
		return chunk.StringValue(v)
	default:
		return chunk.StringValue(fmt.Sprintf("%v", v))
	}
}
