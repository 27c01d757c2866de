package relation

import (
	"fmt"

	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/util"
)

// Relation is the preloaded inner side of a join stage. Rows are
// addressed by position and never move after load, so a row id taken
// during one launch stays valid across suspend and resume.
type Relation struct {
	_name    string
	_colCnt  int
	_rows    []chunk.Row
	_deleted []bool
	_matched *util.AtomicBitmap
}

func NewRelation(name string, colCnt int) *Relation {
	util.AssertFunc(colCnt > 0)
	return &Relation{_name: name, _colCnt: colCnt}
}

func (rel *Relation) Name() string {
	return rel._name
}

func (rel *Relation) ColumnCount() int {
	return rel._colCnt
}

func (rel *Relation) Count() uint64 {
	return uint64(len(rel._rows))
}

func (rel *Relation) AppendRow(row chunk.Row) error {
	if len(row) != rel._colCnt {
		return fmt.Errorf("relation %s: row has %d columns, want %d",
			rel._name, len(row), rel._colCnt)
	}
	rel._rows = append(rel._rows, row)
	rel._deleted = append(rel._deleted, false)
	return nil
}

func (rel *Relation) Row(id uint64) chunk.Row {
	return rel._rows[id]
}

// Delete tombstones a row. The row stays addressable so that cursors
// taken before the delete do not shift, but index scans skip it.
func (rel *Relation) Delete(id uint64) {
	rel._deleted[id] = true
}

func (rel *Relation) IsDeleted(id uint64) bool {
	return rel._deleted[id]
}

// InitMatchBitmap sets up the shared matched-row bitmap used by the
// right outer drain. Idempotent, so resumed launches reuse the bits
// set before the suspend.
func (rel *Relation) InitMatchBitmap() {
	if rel._matched == nil {
		rel._matched = util.NewAtomicBitmap(len(rel._rows))
	}
}

func (rel *Relation) MarkMatched(id uint64) {
	util.AssertFunc(rel._matched != nil)
	rel._matched.Set(id)
}

func (rel *Relation) Matched(id uint64) bool {
	if rel._matched == nil {
		return false
	}
	return rel._matched.IsSet(id)
}

func (rel *Relation) MatchedCount() int {
	if rel._matched == nil {
		return 0
	}
	return rel._matched.SetCount()
}
