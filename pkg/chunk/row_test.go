package chunk

import (
	"testing"

	"github.com/govalues/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanedb/pipejoin/pkg/util"
)

func Test_rowSerialize(t *testing.T) {
	dec, err := decimal.Parse("12345.678")
	require.NoError(t, err)
	row := Row{
		NullValue(),
		BoolValue(true),
		IntValue(-42),
		FloatValue(3.5),
		StringValue("hello"),
		DecimalValue(dec),
	}

	serial := util.NewBufferSerialize()
	err = row.Serialize(serial)
	require.NoError(t, err)
	assert.Equal(t, row.SerializedSize(), len(serial.Bytes()))

	deserial := util.NewBufferDeserialize(serial.Bytes())
	row2, err := DeserializeRow(deserial)
	require.NoError(t, err)
	require.Equal(t, len(row), len(row2))
	for i := range row {
		assert.Equal(t, row[i].Kind, row2[i].Kind)
		assert.Equal(t, row[i].String(), row2[i].String())
	}
}

func Test_rowHashStable(t *testing.T) {
	a := Row{IntValue(7), StringValue("x")}
	b := Row{IntValue(7), StringValue("x")}
	c := Row{StringValue("x"), IntValue(7)}
	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.NotEqual(t, util.NULL_HASH, a.Hash())
}

func Test_concatAndPad(t *testing.T) {
	outer := Row{IntValue(1), IntValue(2)}
	inner := Row{StringValue("a")}
	joined := Concat(outer, inner)
	require.Equal(t, 3, len(joined))
	assert.Equal(t, "a", joined[2].Str)
	// inputs untouched
	assert.Equal(t, 2, len(outer))

	padded := PadNull(outer, 2)
	require.Equal(t, 4, len(padded))
	assert.True(t, padded[2].IsNull())
	assert.True(t, padded[3].IsNull())
}
