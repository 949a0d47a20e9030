// Package graph provides the mutable in-memory model graph that the
// converter pipeline rewrites: operator nodes, tensor edges, and the
// mutation primitives passes build on.
package graph

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for tensors.
const (
	Float32 DataType = iota
	Float16
	Int8
	UInt8
	Int16
	Int32
	Int64
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float16, Int16:
		return 2
	case Int8, UInt8:
		return 1
	case Int64:
		return 8
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int8:
		return "int8"
	case UInt8:
		return "uint8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	default:
		return "unknown"
	}
}

// IsQuantized reports whether the type is an integer storage type used
// for quantized tensor data.
func (dt DataType) IsQuantized() bool {
	return dt == Int8 || dt == UInt8 || dt == Int16
}

// QuantParams holds the affine quantization parameters attached to a
// tensor once it has been quantized: real = (stored - zero_point) * scale.
// Per-tensor parameters have a single scale/zero-point entry; per-channel
// parameters have one entry per slice along Axis.
type QuantParams struct {
	Scale      []float32
	ZeroPoint  []int32
	BitWidth   int
	PerChannel bool
	Axis       int
}

// Clone returns a deep copy of the parameters.
func (q *QuantParams) Clone() *QuantParams {
	if q == nil {
		return nil
	}
	c := *q
	c.Scale = append([]float32(nil), q.Scale...)
	c.ZeroPoint = append([]int32(nil), q.ZeroPoint...)
	return &c
}
