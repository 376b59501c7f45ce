package ua

import (
	"fmt"
	"math"
	"time"
)

// VariantType represents the OPC UA built-in type carried by a Variant.
type VariantType uint8

// OPC UA built-in types.
const (
	TypeNull       VariantType = 0
	TypeBoolean    VariantType = 1
	TypeSByte      VariantType = 2
	TypeByte       VariantType = 3
	TypeInt16      VariantType = 4
	TypeUInt16     VariantType = 5
	TypeInt32      VariantType = 6
	TypeUInt32     VariantType = 7
	TypeInt64      VariantType = 8
	TypeUInt64     VariantType = 9
	TypeFloat      VariantType = 10
	TypeDouble     VariantType = 11
	TypeString     VariantType = 12
	TypeDateTime   VariantType = 13
	TypeByteString VariantType = 15
	TypeStatusCode VariantType = 19
)

var variantTypeNames = map[VariantType]string{
	TypeNull:       "Null",
	TypeBoolean:    "Boolean",
	TypeSByte:      "SByte",
	TypeByte:       "Byte",
	TypeInt16:      "Int16",
	TypeUInt16:     "UInt16",
	TypeInt32:      "Int32",
	TypeUInt32:     "UInt32",
	TypeInt64:      "Int64",
	TypeUInt64:     "UInt64",
	TypeFloat:      "Float",
	TypeDouble:     "Double",
	TypeString:     "String",
	TypeDateTime:   "DateTime",
	TypeByteString: "ByteString",
	TypeStatusCode: "StatusCode",
}

// String returns the built-in type name.
func (t VariantType) String() string {
	if name, ok := variantTypeNames[t]; ok {
		return name
	}

	return fmt.Sprintf("VariantType(%d)", uint8(t))
}

// Variant is a tagged value: the built-in type plus the Go value.
type Variant struct {
	Type  VariantType
	Value any
}

// NewVariant wraps a Go value, inferring its built-in type. Unsupported types yield an error.
func NewVariant(v any) (Variant, error) {
	switch v.(type) {
	case nil:
		return Variant{Type: TypeNull}, nil
	case bool:
		return Variant{Type: TypeBoolean, Value: v}, nil
	case int8:
		return Variant{Type: TypeSByte, Value: v}, nil
	case uint8:
		return Variant{Type: TypeByte, Value: v}, nil
	case int16:
		return Variant{Type: TypeInt16, Value: v}, nil
	case uint16:
		return Variant{Type: TypeUInt16, Value: v}, nil
	case int32:
		return Variant{Type: TypeInt32, Value: v}, nil
	case uint32:
		return Variant{Type: TypeUInt32, Value: v}, nil
	case int64:
		return Variant{Type: TypeInt64, Value: v}, nil
	case int:
		return Variant{Type: TypeInt64, Value: int64(v.(int))}, nil
	case uint64:
		return Variant{Type: TypeUInt64, Value: v}, nil
	case float32:
		return Variant{Type: TypeFloat, Value: v}, nil
	case float64:
		return Variant{Type: TypeDouble, Value: v}, nil
	case string:
		return Variant{Type: TypeString, Value: v}, nil
	case time.Time:
		return Variant{Type: TypeDateTime, Value: v}, nil
	case []byte:
		return Variant{Type: TypeByteString, Value: v}, nil
	case StatusCode:
		return Variant{Type: TypeStatusCode, Value: v}, nil
	default:
		return Variant{}, fmt.Errorf("unsupported variant value type %T", v)
	}
}

// MustVariant is like NewVariant but panics on unsupported types.
func MustVariant(v any) Variant {
	variant, err := NewVariant(v)
	if err != nil {
		panic(err)
	}

	return variant
}

// Float64 returns the value as float64 for numeric types.
func (v Variant) Float64() (float64, bool) {
	switch x := v.Value.(type) {
	case int8:
		return float64(x), true
	case uint8:
		return float64(x), true
	case int16:
		return float64(x), true
	case uint16:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return math.NaN(), false
	}
}

// Normalize converts Value back to the Go type that matches Type. Generic decoders (CBOR, JSON)
// return int64/uint64/float64 for every number; Normalize restores e.g. float32 for TypeFloat.
func (v Variant) Normalize() Variant {
	f, numeric := v.Float64()
	if !numeric {
		if v.Type == TypeStatusCode {
			if n, ok := v.Value.(uint64); ok {
				v.Value = StatusCode(n)
			}
		}
		return v
	}

	switch v.Type {
	case TypeSByte:
		v.Value = int8(f)
	case TypeByte:
		v.Value = uint8(f)
	case TypeInt16:
		v.Value = int16(f)
	case TypeUInt16:
		v.Value = uint16(f)
	case TypeInt32:
		v.Value = int32(f)
	case TypeUInt32:
		v.Value = uint32(f)
	case TypeInt64:
		if n, ok := v.Value.(int64); ok {
			v.Value = n
		} else if n, ok := v.Value.(uint64); ok {
			v.Value = int64(n)
		} else {
			v.Value = int64(f)
		}
	case TypeUInt64:
		if n, ok := v.Value.(uint64); ok {
			v.Value = n
		} else {
			v.Value = uint64(f)
		}
	case TypeFloat:
		v.Value = float32(f)
	case TypeDouble:
		v.Value = f
	case TypeStatusCode:
		v.Value = StatusCode(uint32(f))
	}

	return v
}

// String renders the value for humans.
func (v Variant) String() string {
	if v.Type == TypeNull {
		return "null"
	}

	return fmt.Sprintf("%v", v.Value)
}

// DataValue is the result of reading an attribute: the value plus quality and timestamps.
type DataValue struct {
	Value           Variant
	Status          StatusCode
	SourceTimestamp time.Time
	ServerTimestamp time.Time
}

// NewDataValue creates a good-quality DataValue stamped with ts.
func NewDataValue(v Variant, ts time.Time) DataValue {
	return DataValue{Value: v, Status: StatusOK, SourceTimestamp: ts, ServerTimestamp: ts}
}

// String renders the value with its status.
func (dv DataValue) String() string {
	if dv.Status.IsGood() {
		return fmt.Sprintf("%s (%s)", dv.Value, dv.Value.Type)
	}

	return fmt.Sprintf("%s (%s, %s)", dv.Value, dv.Value.Type, dv.Status)
}
