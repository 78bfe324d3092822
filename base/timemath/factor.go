package timemath

import (
	"math"
	"math/bits"
)

// Factor is an unsigned Q4.28 fixed point number.
type Factor uint32

const (
	FactorShift = 28

	// FactorOne is 1.0 in Q4.28.
	FactorOne Factor = 1 << FactorShift

	ppm = 1_000_000
)

// Ratio returns num / den as a Q4.28 factor.
func Ratio(num, den uint64) (Factor, error) {
	if den == 0 {
		return 0, ErrDivision
	}
	hi, lo := num>>(64-FactorShift), num<<FactorShift
	if hi >= den {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, den)
	if q > math.MaxUint32 {
		return 0, ErrOverflow
	}
	return Factor(q), nil
}

// Scale returns x * f, truncated.
func (f Factor) Scale(x uint64) (uint64, error) {
	hi, lo := bits.Mul64(x, uint64(f))
	if hi>>FactorShift != 0 {
		return 0, ErrOverflow
	}
	return hi<<(64-FactorShift) | lo>>FactorShift, nil
}

// PPM returns the deviation of f from 1.0 in ppm, rounded to nearest.
func (f Factor) PPM() int32 {
	d := (int64(f) - int64(FactorOne)) * ppm
	if d >= 0 {
		d += int64(FactorOne) / 2
	} else {
		d -= int64(FactorOne) / 2
	}
	return int32(d / int64(FactorOne))
}

// FactorFromPPM returns 1.0 + p/1e6. p must be within (-1e6, 15e6).
func FactorFromPPM(p int32) Factor {
	if p <= -ppm || p >= 15*ppm {
		panic("unexpected ppm value")
	}
	return Factor(int64(FactorOne) + int64(p)*int64(FactorOne)/ppm)
}

// Adjust returns f + d or f - d, saturated to [0, max].
func (f Factor) Adjust(d Factor, negative bool) Factor {
	if negative {
		if d >= f {
			return 0
		}
		return f - d
	}
	if uint64(f)+uint64(d) > math.MaxUint32 {
		return math.MaxUint32
	}
	return f + d
}

// ClampPPM limits p to [-limit, limit].
func ClampPPM(p int32, limit uint16) int32 {
	switch {
	case p > int32(limit):
		return int32(limit)
	case p < -int32(limit):
		return -int32(limit)
	default:
		return p
	}
}
