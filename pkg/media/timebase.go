package media

import (
	"fmt"
	"math"
	"math/bits"
	"time"
)

// NoPTS marks an unknown or unset timestamp. It has the same bit pattern as
// libav's AV_NOPTS_VALUE so adapters can pass values through untouched.
const NoPTS int64 = math.MinInt64

// Rational is a time base: one timestamp unit lasts Num/Den seconds.
type Rational struct {
	Num int
	Den int
}

// NewRational returns the time base num/den.
func NewRational(num, den int) Rational {
	return Rational{Num: num, Den: den}
}

// IsValid reports whether r describes a positive, finite unit.
func (r Rational) IsValid() bool {
	return r.Num > 0 && r.Den > 0
}

// String returns r as "num/den".
func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Seconds converts v (expressed in r) to seconds. NoPTS and invalid time
// bases yield 0.
func (r Rational) Seconds(v int64) float64 {
	if v == NoPTS || !r.IsValid() {
		return 0
	}
	return float64(v) * float64(r.Num) / float64(r.Den)
}

// Duration converts v (expressed in r) to a [time.Duration].
func (r Rational) Duration(v int64) time.Duration {
	if v == NoPTS || !r.IsValid() {
		return 0
	}
	return time.Duration(Rescale(v, r, Rational{Num: 1, Den: int(time.Second)}))
}

// Rescale converts v from time base from to time base to, rounding to the
// nearest unit with ties away from zero. The computation uses a 128-bit
// intermediate so large timestamps never overflow before the division.
//
// NoPTS maps to NoPTS. Invalid time bases, and pairs whose reduced cross
// products do not fit in 64 bits, also yield NoPTS. Results outside the int64
// range saturate to math.MaxInt64 or math.MinInt64+1, so ordering is kept.
func Rescale(v int64, from, to Rational) int64 {
	if v == NoPTS || !from.IsValid() || !to.IsValid() {
		return NoPTS
	}
	b, c, ok := scaleFactors(from, to)
	if !ok {
		return NoPTS
	}

	neg := v < 0
	a := uint64(v)
	if neg {
		a = uint64(-v)
	}

	hi, lo := bits.Mul64(a, b)
	var carry uint64
	lo, carry = bits.Add64(lo, c/2, 0)
	hi += carry

	var q uint64
	if hi >= c {
		q = math.MaxUint64
	} else {
		q, _ = bits.Div64(hi, lo, c)
	}
	if q > math.MaxInt64 {
		if neg {
			return math.MinInt64 + 1
		}
		return math.MaxInt64
	}
	if neg {
		return -int64(q)
	}
	return int64(q)
}

// scaleFactors returns b and c with v*from = v*b/c units of to, after
// cancelling common factors. ok is false when a product needs more than 64
// bits.
func scaleFactors(from, to Rational) (b, c uint64, ok bool) {
	g1 := gcd(uint64(from.Num), uint64(to.Num))
	g2 := gcd(uint64(to.Den), uint64(from.Den))

	bh, b := bits.Mul64(uint64(from.Num)/g1, uint64(to.Den)/g2)
	ch, c := bits.Mul64(uint64(to.Num)/g1, uint64(from.Den)/g2)
	return b, c, bh == 0 && ch == 0
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
