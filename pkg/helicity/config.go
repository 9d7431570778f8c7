package helicity

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

type DecodingMode int

const (
	UnknownMode DecodingMode = iota
	UserbitMode
	InputRegisterMode
	InputMollerMode
	HelLocalyMadeUp
)

var modeNames = map[DecodingMode]string{
	UserbitMode:       "UserbitMode",
	InputRegisterMode: "InputRegisterMode",
	InputMollerMode:   "InputMollerMode",
	HelLocalyMadeUp:   "HelLocalyMadeUp",
}

func (m DecodingMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("DecodingMode(%d)", int(m))
}

// ParseDecodingMode maps the helicitydecodingmode value of a map file.
func ParseDecodingMode(name string) (DecodingMode, error) {
	for mode, modeName := range modeNames {
		if modeName == name {
			return mode, nil
		}
	}
	return UnknownMode, &ErrUnknownDecodingMode{Mode: name}
}

const (
	UndefinedHelicity = -1

	DefaultInputRegHelPlus     uint32 = 0x1
	DefaultInputRegHelMinus    uint32 = 0x2
	DefaultInputRegPatternSync uint32 = 0x4
	DefaultInputRegFakeMPS     uint32 = 0x8000

	DefaultHelicityDelay      = 2
	DefaultRandBits           = 30
	DefaultPatternPhaseOffset = 1
	DefaultMinPatternPhase    = 1
	DefaultMaxPatternPhase    = 4
	DefaultEventTypeHelPlus   = 4
	DefaultEventTypeHelMinus  = 1
	DefaultLocalSeed          = 0x2a5a5a5
)

// DefaultBitPattern 0x69 is the -++-+--+ octet, first window in the
// least significant bit.
var DefaultBitPattern = []uint32{0x69}

type Config struct {
	Mode               DecodingMode
	MinPatternPhase    int
	MaxPatternPhase    int
	PatternPhaseOffset int
	BitPattern         []uint32

	InputRegHelPlus     uint32
	InputRegHelMinus    uint32
	InputRegPatternSync uint32
	InputRegPairSync    uint32
	InputRegFakeMPS     uint32

	// Delay is the number of patterns the reported helicity lags the
	// actual one. Zero disables the predictor.
	Delay    int
	RandBits int

	EventTypeHelPlus  int
	EventTypeHelMinus int

	ToggleMode bool
	// LocalSeed starts the generator of the locally made up mode.
	LocalSeed uint32

	SuppressErrorMessages bool
}

func DefaultConfig() Config {
	return Config{
		Mode:                InputRegisterMode,
		MinPatternPhase:     DefaultMinPatternPhase,
		MaxPatternPhase:     DefaultMaxPatternPhase,
		PatternPhaseOffset:  DefaultPatternPhaseOffset,
		InputRegHelPlus:     DefaultInputRegHelPlus,
		InputRegHelMinus:    DefaultInputRegHelMinus,
		InputRegPatternSync: DefaultInputRegPatternSync,
		InputRegFakeMPS:     DefaultInputRegFakeMPS,
		Delay:               DefaultHelicityDelay,
		RandBits:            DefaultRandBits,
		EventTypeHelPlus:    DefaultEventTypeHelPlus,
		EventTypeHelMinus:   DefaultEventTypeHelMinus,
		LocalSeed:           DefaultLocalSeed,
	}
}

// Validate checks the configuration and fills in what is derived: toggle
// mode overrides, and the bit pattern when none was given.
func (c *Config) Validate() error {
	if _, ok := modeNames[c.Mode]; !ok {
		return &ErrUnknownDecodingMode{Mode: c.Mode.String()}
	}
	if c.ToggleMode {
		c.Delay = 0
		c.MaxPatternPhase = 2
		c.BitPattern = DefaultBitPattern
	}
	if c.MinPatternPhase < 0 {
		return &ErrConfig{Field: "minpatternphase", Reason: "must not be negative"}
	}
	if c.MaxPatternPhase < c.MinPatternPhase+1 || (c.MaxPatternPhase-c.MinPatternPhase+1)%2 != 0 {
		return &ErrConfig{Field: "patternphase", Reason: fmt.Sprintf("%d is not an even pattern length", c.MaxPatternPhase)}
	}
	if c.PatternPhaseOffset != 0 && c.PatternPhaseOffset != 1 {
		return &ErrConfig{Field: "patternphaseoffset", Reason: "must be 0 or 1"}
	}
	if c.Delay < 0 {
		return &ErrConfig{Field: "numberpatternsdelayed", Reason: "must not be negative"}
	}
	if c.RandBits != 24 && c.RandBits != 30 {
		return &ErrConfig{Field: "randseedbits", Reason: fmt.Sprintf("%d is neither 24 nor 30", c.RandBits)}
	}
	if c.Mode == InputMollerMode {
		plus, minus := c.EventTypeHelPlus, c.EventTypeHelMinus
		if plus == minus || plus <= 0 || plus >= 15 || minus <= 0 || minus >= 15 {
			return &ErrConfig{
				Field:  "helpluseventtype/helminuseventtype",
				Reason: fmt.Sprintf("plus=%d minus=%d must differ and lie in (0, 15)", plus, minus),
			}
		}
	}
	if len(c.BitPattern) == 0 {
		c.BitPattern = BuildHelicityBitPattern(c.patternLength())
	}
	return nil
}

func (c *Config) patternLength() int {
	return c.MaxPatternPhase - c.MinPatternPhase + 1
}

func (c *Config) usePredictor() bool {
	return c.Delay > 0 && c.Mode != HelLocalyMadeUp
}

// BuildHelicityBitPattern gives the Thue-Morse pattern of length n, the
// complement-symmetric sequence used for pairs, quartets and octets.
func BuildHelicityBitPattern(n int) []uint32 {
	if n < 1 {
		n = 1
	}
	pattern := make([]uint32, (n+31)/32)
	for k := 0; k < n; k++ {
		bit := uint32(1 ^ (bits.OnesCount(uint(k)) & 1))
		pattern[k/32] |= bit << (k % 32)
	}
	return pattern
}

// ParseBitPattern reads a hex template such as "0x69" or "0x66669999";
// patterns longer than eight digits fill several words, lowest first.
func ParseBitPattern(hex string) ([]uint32, error) {
	digits := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(hex)), "0x")
	if digits == "" {
		return nil, &ErrConfig{Field: "patternbits", Reason: "empty"}
	}
	var pattern []uint32
	for len(digits) > 0 {
		start := len(digits) - 8
		if start < 0 {
			start = 0
		}
		word, err := strconv.ParseUint(digits[start:], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("error parsing pattern bits %q: %w", hex, err)
		}
		pattern = append(pattern, uint32(word))
		digits = digits[:start]
	}
	return pattern, nil
}

func patternBit(pattern []uint32, k int) int {
	if k < 0 || k/32 >= len(pattern) {
		return 0
	}
	return int(pattern[k/32]>>(k%32)) & 1
}
