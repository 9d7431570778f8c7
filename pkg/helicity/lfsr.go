package helicity

import "errors"

const (
	mask24 uint32 = 0xFFFFFF
	mask30 uint32 = 0x3FFFFFFF

	// Galois taps of the 24-bit generator: bits 1, 3, 4 and 24.
	taps24 uint32 = 1 + 4 + 8 + 0x800000
	top24  uint32 = 0x800000
)

var errSingularSeed = errors.New("reported bits do not determine a 24-bit seed")

// randbit30 steps the 30-bit Fibonacci register with taps 7, 28, 29, 30
// and returns the new bit, which is also shifted into the seed.
func randbit30(seed *uint32) int {
	s := *seed
	bit7 := (s >> 6) & 1
	bit28 := (s >> 27) & 1
	bit29 := (s >> 28) & 1
	bit30 := (s >> 29) & 1
	result := (bit30 ^ bit29 ^ bit28 ^ bit7) & 1
	*seed = ((s << 1) | result) & mask30
	return int(result)
}

// randbit24 steps the 24-bit Galois register and returns its output bit.
func randbit24(seed *uint32) int {
	s := *seed & mask24
	if s&top24 != 0 {
		*seed = (((s ^ taps24) << 1) | 1) & mask24
		return 1
	}
	*seed = (s << 1) & mask24
	return 0
}

// seedFromBits24 finds the register state that emits bits as its next 24
// outputs and returns the state after emitting them. The outputs are
// linear in the state, so the initial state solves a 24x24 system over
// GF(2).
func seedFromBits24(bits []int) (uint32, error) {
	const n = 24
	if len(bits) < n {
		return 0, errSingularSeed
	}
	var rows [n]uint32
	for j := 0; j < n; j++ {
		unit := uint32(1) << j
		for i := 0; i < n; i++ {
			if randbit24(&unit) == 1 {
				rows[i] |= 1 << j
			}
		}
	}
	for i := 0; i < n; i++ {
		rows[i] |= uint32(bits[i]&1) << n
	}

	for col := 0; col < n; col++ {
		pivot := -1
		for r := col; r < n; r++ {
			if (rows[r]>>col)&1 == 1 {
				pivot = r
				break
			}
		}
		if pivot < 0 {
			return 0, errSingularSeed
		}
		rows[col], rows[pivot] = rows[pivot], rows[col]
		for r := 0; r < n; r++ {
			if r != col && (rows[r]>>col)&1 == 1 {
				rows[r] ^= rows[col]
			}
		}
	}

	var seed uint32
	for i := 0; i < n; i++ {
		seed |= ((rows[i] >> n) & 1) << i
	}
	for i := 0; i < n; i++ {
		randbit24(&seed)
	}
	return seed, nil
}

// predictor rebuilds the pseudorandom pattern polarity sequence from the
// reported polarities and runs a second copy Delay patterns ahead.
type predictor struct {
	randBits    int
	delay       int
	collected   []int
	seedDelayed uint32
	seedActual  uint32
	ready       bool
}

func newPredictor(randBits, delay int) predictor {
	return predictor{
		randBits:  randBits,
		delay:     delay,
		collected: make([]int, 0, randBits),
	}
}

func (p *predictor) reset() {
	p.collected = p.collected[:0]
	p.seedDelayed = 0
	p.seedActual = 0
	p.ready = false
}

func (p *predictor) next(seed *uint32) int {
	if p.randBits == 24 {
		return randbit24(seed)
	}
	return randbit30(seed)
}

// collect takes the reported polarity of a new pattern. Once enough bits
// are in it returns done with the actual polarity of that pattern.
func (p *predictor) collect(bit int) (actual int, done bool, err error) {
	p.collected = append(p.collected, bit&1)
	if len(p.collected) < p.randBits {
		return UndefinedHelicity, false, nil
	}
	if p.randBits == 24 {
		seed, err := seedFromBits24(p.collected)
		if err != nil {
			p.reset()
			return UndefinedHelicity, false, err
		}
		p.seedDelayed = seed
	} else {
		var seed uint32
		for _, b := range p.collected {
			seed = ((seed << 1) | uint32(b)) & mask30
		}
		p.seedDelayed = seed
	}
	return p.start(bit), true, nil
}

// setSeed installs a seed read from hardware whose last output is the
// reported polarity of the current pattern.
func (p *predictor) setSeed(seed uint32, reported int) int {
	if p.randBits == 24 {
		p.seedDelayed = seed & mask24
	} else {
		p.seedDelayed = seed & mask30
	}
	return p.start(reported)
}

func (p *predictor) start(reported int) int {
	p.seedActual = p.seedDelayed
	actual := reported
	for i := 0; i < p.delay; i++ {
		actual = p.next(&p.seedActual)
	}
	p.ready = true
	return actual
}

// advance moves both registers one pattern on.
func (p *predictor) advance() (actual, delayed int) {
	return p.next(&p.seedActual), p.next(&p.seedDelayed)
}
