package quant

import (
	"encoding/binary"
	"math"
)

// Range is the observed value range of a tensor, supplied by external
// calibration over representative inputs.
type Range struct {
	Min float32 `yaml:"min" json:"min"`
	Max float32 `yaml:"max" json:"max"`
}

// CalibrationStats maps tensor names to their calibrated ranges.
type CalibrationStats map[string]Range

// ComputeParams derives asymmetric affine parameters for a range at the
// given bit-width: real = (stored - zero_point) * scale, stored in
// [-2^(bits-1), 2^(bits-1)-1]. The range is widened to include zero so
// the zero-point is exactly representable.
func ComputeParams(r Range, bits int) (scale float32, zeroPoint int32) {
	lo := float64(min32(r.Min, 0))
	hi := float64(max32(r.Max, 0))
	qmin := -(int64(1) << (bits - 1))
	qmax := (int64(1) << (bits - 1)) - 1

	if hi == lo {
		return 1, 0
	}
	scale = float32((hi - lo) / float64(qmax-qmin))
	zp := math.Round(float64(qmin) - lo/float64(scale))
	if zp < float64(qmin) {
		zp = float64(qmin)
	}
	if zp > float64(qmax) {
		zp = float64(qmax)
	}
	return scale, int32(zp)
}

// SymmetricScale derives a symmetric (zero-point 0) scale from the
// largest magnitude, the scheme used for weights.
func SymmetricScale(maxAbs float32, bits int) float32 {
	qmax := float32((int64(1) << (bits - 1)) - 1)
	if maxAbs == 0 {
		return 1
	}
	return maxAbs / qmax
}

// Quantize stores a real value at the given parameters, rounding to
// nearest and clamping to the representable range.
func Quantize(v, scale float32, zeroPoint int32, bits int) int32 {
	qmin := int32(-(int64(1) << (bits - 1)))
	qmax := int32((int64(1) << (bits - 1)) - 1)
	q := int32(math.Round(float64(v)/float64(scale))) + zeroPoint
	if q < qmin {
		return qmin
	}
	if q > qmax {
		return qmax
	}
	return q
}

// Dequantize recovers the real value a stored integer represents.
func Dequantize(q int32, scale float32, zeroPoint int32) float32 {
	return float32(q-zeroPoint) * scale
}

// quantizeSlice quantizes vals with a single scale and packs them into
// the little-endian storage form for the bit-width.
func quantizeSlice(vals []float32, scale float32, zeroPoint int32, bits int) []byte {
	if bits == 16 {
		out := make([]byte, len(vals)*2)
		for i, v := range vals {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(Quantize(v, scale, zeroPoint, bits))))
		}
		return out
	}
	out := make([]byte, len(vals))
	for i, v := range vals {
		out[i] = byte(int8(Quantize(v, scale, zeroPoint, bits)))
	}
	return out
}

// maxAbs returns the largest magnitude in vals.
func maxAbs(vals []float32) float32 {
	var m float32
	for _, v := range vals {
		if a := float32(math.Abs(float64(v))); a > m {
			m = a
		}
	}
	return m
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
