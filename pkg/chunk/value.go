package chunk

import (
	"fmt"

	"github.com/govalues/decimal"

	"github.com/lanedb/pipejoin/pkg/util"
)

type ValueKind uint8

const (
	VK_NULL ValueKind = iota
	VK_BOOL
	VK_INT
	VK_FLOAT
	VK_STRING
	VK_DECIMAL
)

func (k ValueKind) String() string {
	switch k {
	case VK_NULL:
		return "null"
	case VK_BOOL:
		return "bool"
	case VK_INT:
		return "int"
	case VK_FLOAT:
		return "float"
	case VK_STRING:
		return "string"
	case VK_DECIMAL:
		return "decimal"
	default:
		panic("usp")
	}
}

type Value struct {
	Kind ValueKind
	Bool bool
	I64  int64
	F64  float64
	Str  string
	Dec  decimal.Decimal
}

func NullValue() Value {
	return Value{Kind: VK_NULL}
}

func BoolValue(b bool) Value {
	return Value{Kind: VK_BOOL, Bool: b}
}

func IntValue(i int64) Value {
	return Value{Kind: VK_INT, I64: i}
}

func FloatValue(f float64) Value {
	return Value{Kind: VK_FLOAT, F64: f}
}

func StringValue(s string) Value {
	return Value{Kind: VK_STRING, Str: s}
}

func DecimalValue(d decimal.Decimal) Value {
	return Value{Kind: VK_DECIMAL, Dec: d}
}

func (val Value) IsNull() bool {
	return val.Kind == VK_NULL
}

func (val Value) String() string {
	switch val.Kind {
	case VK_NULL:
		return "NULL"
	case VK_BOOL:
		return fmt.Sprintf("%v", val.Bool)
	case VK_INT:
		return fmt.Sprintf("%d", val.I64)
	case VK_FLOAT:
		return fmt.Sprintf("%v", val.F64)
	case VK_STRING:
		return val.Str
	case VK_DECIMAL:
		return val.Dec.String()
	default:
		panic("usp")
	}
}

// AsFloat widens numeric kinds. The caller checks IsNull first.
func (val Value) AsFloat() (float64, bool) {
	switch val.Kind {
	case VK_INT:
		return float64(val.I64), true
	case VK_FLOAT:
		return val.F64, true
	case VK_DECIMAL:
		f, ok := val.Dec.Float64()
		return f, ok
	default:
		return 0, false
	}
}

func (val Value) Hash() uint64 {
	switch val.Kind {
	case VK_NULL:
		return util.NULL_HASH
	case VK_BOOL:
		if val.Bool {
			return util.MurmurHash64(1)
		}
		return util.MurmurHash64(0)
	case VK_INT:
		return util.MurmurHash64(uint64(val.I64))
	case VK_FLOAT:
		// normalize so that equal ints and floats do not collide by accident
		if val.F64 == float64(int64(val.F64)) {
			return util.MurmurHash64(uint64(int64(val.F64)))
		}
		return util.HashBytes([]byte(fmt.Sprintf("%v", val.F64)))
	case VK_STRING:
		return util.HashBytes([]byte(val.Str))
	case VK_DECIMAL:
		if w, f, ok := val.Dec.Int64(0); ok && f == 0 {
			return util.MurmurHash64(uint64(w))
		}
		return util.HashBytes([]byte(val.Dec.String()))
	default:
		panic("usp")
	}
}

func (val Value) Serialize(serial util.Serialize) error {
	err := util.Write[uint8](uint8(val.Kind), serial)
	if err != nil {
		return err
	}
	switch val.Kind {
	case VK_NULL:
		return nil
	case VK_BOOL:
		return util.Write[bool](val.Bool, serial)
	case VK_INT:
		return util.Write[int64](val.I64, serial)
	case VK_FLOAT:
		return util.Write[float64](val.F64, serial)
	case VK_STRING:
		return util.WriteString(val.Str, serial)
	case VK_DECIMAL:
		return util.WriteString(val.Dec.String(), serial)
	default:
		panic("usp")
	}
}

func DeserializeValue(deserial util.Deserialize) (Value, error) {
	var kind uint8
	err := util.Read[uint8](&kind, deserial)
	if err != nil {
		return Value{}, err
	}
	val := Value{Kind: ValueKind(kind)}
	switch val.Kind {
	case VK_NULL:
	case VK_BOOL:
		err = util.Read[bool](&val.Bool, deserial)
	case VK_INT:
		err = util.Read[int64](&val.I64, deserial)
	case VK_FLOAT:
		err = util.Read[float64](&val.F64, deserial)
	case VK_STRING:
		val.Str, err = util.ReadString(deserial)
	case VK_DECIMAL:
		var s string
		s, err = util.ReadString(deserial)
		if err == nil {
			val.Dec, err = decimal.Parse(s)
		}
	default:
		return Value{}, fmt.Errorf("unknown value kind %d", kind)
	}
	return val, err
}

// SerializedSize is the byte footprint of the value in the destination
// buffer. It must agree with Serialize.
func (val Value) SerializedSize() int {
	switch val.Kind {
	case VK_NULL:
		return 1
	case VK_BOOL:
		return 2
	case VK_INT, VK_FLOAT:
		return 9
	case VK_STRING:
		return 5 + len(val.Str)
	case VK_DECIMAL:
		return 5 + len(val.Dec.String())
	default:
		panic("usp")
	}
}
