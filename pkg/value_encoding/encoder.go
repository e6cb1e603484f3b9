package value_encoding

import (
	"errors"
	"fmt"
	"math"

	cn "github.com/jtomasevic/synapse-cad/pkg/context_network"
)

const (
	MinBits = 1
	MaxBits = 32
)

var (
	// ErrOutOfRange is returned under PolicyReject when a value quantizes
	// outside [0, 2^bits-1].
	ErrOutOfRange = errors.New("value outside encoder range")
	// ErrNonFinite is returned for NaN and infinite inputs, whatever the policy.
	ErrNonFinite = errors.New("value is not finite")
	// ErrInvalidEncoder reports a bad construction parameter.
	ErrInvalidEncoder = errors.New("invalid encoder configuration")
)

// OutOfRangePolicy decides what happens to values beyond [min, max].
type OutOfRangePolicy string

const (
	PolicyClamp  OutOfRangePolicy = "clamp"
	PolicyReject OutOfRangePolicy = "reject"
)

func (p OutOfRangePolicy) Valid() bool {
	return p == PolicyClamp || p == PolicyReject
}

// Encoding is one quantized sample.
type Encoding struct {
	Normalized int64
	// Facts holds exactly one fact per bit position, sorted ascending.
	Facts   []cn.Fact
	Clamped bool
}

// Encoder quantizes a real value into bits and emits one fact per bit.
type Encoder struct {
	min         float64
	bits        int
	maxBinValue float64
	step        float64
	policy      OutOfRangePolicy
}

func NewEncoder(minValue, maxValue float64, bits int, policy OutOfRangePolicy) (*Encoder, error) {
	if bits < MinBits || bits > MaxBits {
		return nil, fmt.Errorf("%w: bits %d not in [%d, %d]", ErrInvalidEncoder, bits, MinBits, MaxBits)
	}
	if !isFinite(minValue) || !isFinite(maxValue) {
		return nil, fmt.Errorf("%w: min/max must be finite", ErrInvalidEncoder)
	}
	if maxValue < minValue {
		return nil, fmt.Errorf("%w: max %v below min %v", ErrInvalidEncoder, maxValue, minValue)
	}
	if policy == "" {
		policy = PolicyClamp
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: unknown out-of-range policy %q", ErrInvalidEncoder, policy)
	}

	maxBin := math.Exp2(float64(bits)) - 1
	fullRange := maxValue - minValue
	if fullRange == 0 {
		fullRange = maxBin
	}
	return &Encoder{
		min:         minValue,
		bits:        bits,
		maxBinValue: maxBin,
		step:        fullRange / maxBin,
		policy:      policy,
	}, nil
}

func (e *Encoder) Bits() int            { return e.bits }
func (e *Encoder) MaxBinValue() float64 { return e.maxBinValue }
func (e *Encoder) Step() float64        { return e.step }

// Normalize maps value to its quantization level, applying the range policy.
func (e *Encoder) Normalize(value float64) (int64, bool, error) {
	if !isFinite(value) {
		return 0, false, ErrNonFinite
	}
	level := math.Floor((value - e.min) / e.step)
	switch {
	case level < 0:
		if e.policy == PolicyReject {
			return 0, false, fmt.Errorf("%w: %v quantizes to %v", ErrOutOfRange, value, level)
		}
		return 0, true, nil
	case level > e.maxBinValue:
		if e.policy == PolicyReject {
			return 0, false, fmt.Errorf("%w: %v quantizes to %v", ErrOutOfRange, value, level)
		}
		return int64(e.maxBinValue), true, nil
	}
	return int64(level), false, nil
}

// Encode quantizes value and emits its facts, least significant bit first.
func (e *Encoder) Encode(value float64) (Encoding, error) {
	level, clamped, err := e.Normalize(value)
	if err != nil {
		return Encoding{}, err
	}
	facts := make([]cn.Fact, e.bits)
	for i := 0; i < e.bits; i++ {
		bit := cn.Fact((level >> uint(i)) & 1)
		facts[i] = cn.InputFactOffset + cn.Fact(i)*2 + bit
	}
	return Encoding{Normalized: level, Facts: facts, Clamped: clamped}, nil
}

// BitIndex returns the bit position an input fact encodes.
func BitIndex(f cn.Fact) int {
	return int((f - cn.InputFactOffset) / 2)
}

// BitWeight is the prediction error contribution of a missed input fact: 2^bit.
func BitWeight(f cn.Fact) float64 {
	return math.Exp2(float64(BitIndex(f)))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
