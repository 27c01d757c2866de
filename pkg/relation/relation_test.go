package relation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/expr"
)

func intRel(t *testing.T, name string, vals ...int64) *Relation {
	rel := NewRelation(name, 2)
	for i, v := range vals {
		err := rel.AppendRow(chunk.Row{chunk.IntValue(v), chunk.IntValue(int64(i))})
		require.NoError(t, err)
	}
	return rel
}

func Test_loadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.csv")
	data := "1,hello,2.5\n2,,3\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	rel, err := LoadCSV("t", path)
	require.NoError(t, err)
	require.Equal(t, uint64(2), rel.Count())
	assert.Equal(t, chunk.IntValue(1), rel.Row(0)[0])
	assert.Equal(t, chunk.StringValue("hello"), rel.Row(0)[1])
	assert.Equal(t, chunk.FloatValue(2.5), rel.Row(0)[2])
	assert.True(t, rel.Row(1)[1].IsNull())
}

func Test_sliceSourceRead(t *testing.T) {
	rel := intRel(t, "s", 1, 2, 3, 4, 5)
	src := SourceFromRelation(rel)
	require.Equal(t, 2, src.ColumnCount())

	out := make([]chunk.Row, 2)
	n, eof, err := src.Read(0, out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, eof)

	n, eof, err = src.Read(4, out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, eof)

	n, eof, err = src.Read(100, out)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, eof)

	// position based reads repeat exactly
	out2 := make([]chunk.Row, 2)
	n2, _, err := src.Read(0, out2)
	require.NoError(t, err)
	require.Equal(t, 2, n2)
	assert.Equal(t, out2[0][0], chunk.IntValue(1))
}

func Test_hashTableProbe(t *testing.T) {
	rel := intRel(t, "inner", 10, 20, 10, 30, 10)
	keys := expr.NewExprExec(expr.Column(0))
	ht, err := BuildHashTable(rel, keys)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), ht.Count())

	hash, ok, err := ht.KeyHash(chunk.Row{chunk.IntValue(10)})
	require.NoError(t, err)
	require.True(t, ok)

	var got []uint64
	cursor, found := ht.Probe(hash)
	for found {
		got = append(got, ht.RowId(cursor))
		cursor, found = ht.Next(cursor, hash)
	}
	assert.ElementsMatch(t, []uint64{0, 2, 4}, got)

	// NULL key rows never enter the table
	_, ok, err = ht.KeyHash(chunk.Row{chunk.NullValue()})
	require.NoError(t, err)
	assert.False(t, ok)
}

func Test_hashTableSkipsDeleted(t *testing.T) {
	rel := intRel(t, "inner", 7, 7, 7)
	rel.Delete(1)
	ht, err := BuildHashTable(rel, expr.NewExprExec(expr.Column(0)))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ht.Count())
}

func Test_matchBitmap(t *testing.T) {
	rel := intRel(t, "inner", 1, 2, 3)
	rel.InitMatchBitmap()
	rel.MarkMatched(1)
	rel.MarkMatched(1)
	assert.False(t, rel.Matched(0))
	assert.True(t, rel.Matched(1))
	assert.Equal(t, 1, rel.MatchedCount())
}

func Test_blockIndexLookup(t *testing.T) {
	rel := NewRelation("idx", 1)
	for i := int64(0); i < 20; i++ {
		require.NoError(t, rel.AppendRow(chunk.Row{chunk.IntValue(i * 10)}))
	}
	idx, err := NewBlockIndex(rel, 0, 4)
	require.NoError(t, err)
	require.NoError(t, idx.PrepareCrosslinks())
	assert.Equal(t, 5, idx.BlockCount())

	// [55, 95] covers values 60..90, row ids 6..9
	ids, err := idx.Lookup(chunk.IntValue(55), chunk.IntValue(95))
	require.NoError(t, err)
	// blocks are [0..3],[4..7],[8..11]...; hits span blocks 1 and 2
	assert.Equal(t, []uint64{4, 5, 6, 7, 8, 9, 10, 11}, ids)

	// open upper bound
	ids, err = idx.Lookup(chunk.IntValue(170), chunk.NullValue())
	require.NoError(t, err)
	assert.Equal(t, []uint64{16, 17, 18, 19}, ids)
}

func Test_blockIndexDeadLeaf(t *testing.T) {
	rel := NewRelation("idx", 1)
	for i := int64(0); i < 8; i++ {
		require.NoError(t, rel.AppendRow(chunk.Row{chunk.IntValue(i)}))
	}
	idx, err := NewBlockIndex(rel, 0, 4)
	require.NoError(t, err)

	// kill the whole first block
	for id := uint64(0); id < 4; id++ {
		rel.Delete(id)
	}
	require.NoError(t, idx.PrepareCrosslinks())
	assert.Equal(t, 1, idx.DeadBlockCount())

	// range covering the dead block returns nothing from it
	ids, err := idx.Lookup(chunk.IntValue(0), chunk.IntValue(100))
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 5, 6, 7}, ids)
}
