package chunk

import (
	"strings"

	"github.com/lanedb/pipejoin/pkg/util"
)

// Row is one tuple flowing through the pipeline. Join stages compose
// rows by concatenation, so column positions are stable per depth.
type Row []Value

func (row Row) Clone() Row {
	return util.CopyTo(row)
}

// Concat builds the combined row of a join emit. Both inputs stay
// untouched.
func Concat(outer Row, inner Row) Row {
	dst := make(Row, 0, len(outer)+len(inner))
	dst = append(dst, outer...)
	dst = append(dst, inner...)
	return dst
}

// PadNull extends the row with cnt NULL columns. Used for the
// unmatched side of outer joins.
func PadNull(outer Row, cnt int) Row {
	dst := make(Row, 0, len(outer)+cnt)
	dst = append(dst, outer...)
	for i := 0; i < cnt; i++ {
		dst = append(dst, NullValue())
	}
	return dst
}

func (row Row) Hash() uint64 {
	var h uint64
	for i, val := range row {
		if i == 0 {
			h = val.Hash()
		} else {
			h = util.CombineHashScalar(h, val.Hash())
		}
	}
	return h
}

func (row Row) String() string {
	sb := strings.Builder{}
	for i, val := range row {
		if i != 0 {
			sb.WriteByte('\t')
		}
		sb.WriteString(val.String())
	}
	return sb.String()
}

func (row Row) Serialize(serial util.Serialize) error {
	err := util.Write[uint32](uint32(len(row)), serial)
	if err != nil {
		return err
	}
	for _, val := range row {
		err = val.Serialize(serial)
		if err != nil {
			return err
		}
	}
	return nil
}

func DeserializeRow(deserial util.Deserialize) (Row, error) {
	var cnt uint32
	err := util.Read[uint32](&cnt, deserial)
	if err != nil {
		return nil, err
	}
	row := make(Row, cnt)
	for i := uint32(0); i < cnt; i++ {
		row[i], err = DeserializeValue(deserial)
		if err != nil {
			return nil, err
		}
	}
	return row, nil
}

// SerializedSize must agree with Serialize. The projection terminal
// uses it to reserve destination bytes before writing.
func (row Row) SerializedSize() int {
	size := 4
	for _, val := range row {
		size += val.SerializedSize()
	}
	return size
}
