package helicity

import (
	"fmt"
	"strings"

	"github.com/parity-daq/decoder_go/pkg/errflag"
)

const (
	maxPatternAdvance = 1 << 16
	syncErrorFlag     = errflag.Helicity | errflag.GlobalCut | errflag.EventCutMode3
)

// Counters are the run totals reported at end of run.
type Counters struct {
	MissedGates       int64 `json:"missed_gates"`
	MissedEventBlocks int64 `json:"missed_event_blocks"`
	SyncErrors        int64 `json:"sync_errors"`
	HelicityErrors    int64 `json:"helicity_errors"`
}

// Snapshot is the helicity state of one event.
type Snapshot struct {
	EventNumber            int64  `json:"event_number"`
	PatternNumber          int64  `json:"pattern_number"`
	PatternPhase           int    `json:"pattern_phase"`
	Reported               int    `json:"reported"`
	Actual                 int    `json:"actual"`
	Delayed                int    `json:"delayed"`
	ActualPatternPolarity  int    `json:"actual_pattern_polarity"`
	DelayedPatternPolarity int    `json:"delayed_pattern_polarity"`
	SeedActual             uint32 `json:"seed_actual"`
	SeedDelayed            uint32 `json:"seed_delayed"`
	Ignored                bool   `json:"ignored"`
	ErrorFlag              uint32 `json:"error_flag"`
}

// state is shared by the register-based decoder and the helicity board.
type state struct {
	cfg Config

	eventNumber, eventNumberOld, eventNumberFirst       int64
	patternNumber, patternNumberOld, patternNumberFirst int64
	phase, phaseOld                                     int
	firstEventSeen                                      bool

	reported, actual, delayed                                              int
	actualPatternPolarity, delayedPatternPolarity, previousPatternPolarity int
	bitPlus, bitMinus                                                      bool
	ignore                                                                 bool
	dataLoaded                                                             bool
	eventType                                                              int

	pred      predictor
	errorFlag uint32
	counters  Counters

	cleared eventState
}

// eventState holds what ClearEventData overwrites, so an event that is
// dropped before ProcessEvent can be rolled back.
type eventState struct {
	eventNumber, eventNumberOld, eventNumberFirst       int64
	patternNumber, patternNumberOld, patternNumberFirst int64
	phase, phaseOld                                     int
	reported, actual, delayed                           int
	bitPlus, bitMinus, dataLoaded                       bool
}

func newState(cfg Config) state {
	return state{
		cfg:                     cfg,
		eventNumber:             -1,
		eventNumberOld:          -1,
		eventNumberFirst:        -1,
		patternNumber:           -1,
		patternNumberOld:        -1,
		patternNumberFirst:      -1,
		phase:                   -1,
		phaseOld:                -1,
		reported:                UndefinedHelicity,
		actual:                  UndefinedHelicity,
		delayed:                 UndefinedHelicity,
		actualPatternPolarity:   UndefinedHelicity,
		delayedPatternPolarity:  UndefinedHelicity,
		previousPatternPolarity: UndefinedHelicity,
		pred:                    newPredictor(cfg.RandBits, cfg.Delay),
	}
}

// ClearEventData rolls the current numbers into the previous ones and
// leaves the current event undefined until decoded.
func (s *state) ClearEventData() {
	s.cleared = eventState{
		eventNumber: s.eventNumber, eventNumberOld: s.eventNumberOld, eventNumberFirst: s.eventNumberFirst,
		patternNumber: s.patternNumber, patternNumberOld: s.patternNumberOld, patternNumberFirst: s.patternNumberFirst,
		phase: s.phase, phaseOld: s.phaseOld,
		reported: s.reported, actual: s.actual, delayed: s.delayed,
		bitPlus: s.bitPlus, bitMinus: s.bitMinus, dataLoaded: s.dataLoaded,
	}
	s.dataLoaded = false
	if s.eventNumberFirst == -1 && s.eventNumberOld != -1 {
		s.eventNumberFirst = s.eventNumberOld
	}
	if s.patternNumberFirst == -1 && s.patternNumberOld != -1 && s.patternNumber == s.patternNumberOld+1 {
		s.patternNumberFirst = s.patternNumberOld
	}
	s.eventNumberOld = s.eventNumber
	s.patternNumberOld = s.patternNumber
	s.phaseOld = s.phase

	s.reported = UndefinedHelicity
	s.actual = UndefinedHelicity
	s.delayed = UndefinedHelicity
	s.bitPlus = false
	s.bitMinus = false

	s.eventNumber = -1
	s.patternNumber = -1
	s.phase = -1
}

// AbortEvent undoes the last ClearEventData. The next event then follows
// the last processed one as if the dropped event had never been read.
func (s *state) AbortEvent() {
	c := s.cleared
	s.eventNumber, s.eventNumberOld, s.eventNumberFirst = c.eventNumber, c.eventNumberOld, c.eventNumberFirst
	s.patternNumber, s.patternNumberOld, s.patternNumberFirst = c.patternNumber, c.patternNumberOld, c.patternNumberFirst
	s.phase, s.phaseOld = c.phase, c.phaseOld
	s.reported, s.actual, s.delayed = c.reported, c.actual, c.delayed
	s.bitPlus, s.bitMinus, s.dataLoaded = c.bitPlus, c.bitMinus, c.dataLoaded
}

func (s *state) Config() Config { return s.cfg }

func (s *state) EventNumber() int64 { return s.eventNumber }

func (s *state) PatternNumber() int64 { return s.patternNumber }

func (s *state) PatternPhase() int { return s.phase }

func (s *state) MinPatternPhase() int { return s.cfg.MinPatternPhase }

func (s *state) MaxPatternPhase() int { return s.cfg.MaxPatternPhase }

func (s *state) HelicityReported() int { return s.reported }

func (s *state) HelicityActual() int { return s.actual }

func (s *state) HelicityDelayed() int { return s.delayed }

func (s *state) IsHelicityIgnored() bool { return s.ignore }

func (s *state) ErrorFlag() uint32 { return s.errorFlag }

func (s *state) Counters() Counters { return s.counters }

func (s *state) FirstEventNumber() int64 { return s.eventNumberFirst }

func (s *state) FirstPatternNumber() int64 { return s.patternNumberFirst }

func (s *state) Snapshot() Snapshot {
	return Snapshot{
		EventNumber:            s.eventNumber,
		PatternNumber:          s.patternNumber,
		PatternPhase:           s.phase,
		Reported:               s.reported,
		Actual:                 s.actual,
		Delayed:                s.delayed,
		ActualPatternPolarity:  s.actualPatternPolarity,
		DelayedPatternPolarity: s.delayedPatternPolarity,
		SeedActual:             s.pred.seedActual,
		SeedDelayed:            s.pred.seedDelayed,
		Ignored:                s.ignore,
		ErrorFlag:              s.errorFlag,
	}
}

func (s *state) logError(message string) {
	if !s.cfg.SuppressErrorMessages {
		logger.Warning(message, "helicity")
	}
}

func (s *state) syncError(message string) {
	s.counters.SyncErrors++
	s.errorFlag |= syncErrorFlag
	s.logError(message)
}

// checkEventGap counts the gates lost between this event and the last.
func (s *state) checkEventGap() {
	if !s.firstEventSeen {
		s.firstEventSeen = true
		return
	}
	if s.eventNumber == s.eventNumberOld+1 {
		return
	}
	missed := s.eventNumber - (s.eventNumberOld + 1)
	if missed > 0 {
		s.counters.MissedGates += missed
	}
	s.counters.MissedEventBlocks++
	s.errorFlag |= syncErrorFlag
	s.logError(fmt.Sprintf("read event %d is not previous event+1; missed %d gates", s.eventNumber, missed))
}

// stepPhase runs the internal pattern counters for one event. Before the
// first sync the pattern and phase stay undefined.
func (s *state) stepPhase(sync bool) {
	min, max := s.cfg.MinPatternPhase, s.cfg.MaxPatternPhase
	if s.patternNumberOld < 0 || s.phaseOld < min {
		if sync {
			s.phase = min
			s.patternNumber = s.patternNumberOld + 1
			if s.patternNumber < 0 {
				s.patternNumber = 0
			}
		}
		return
	}
	if sync {
		if s.phaseOld != max {
			s.syncError(fmt.Sprintf("pattern sync at phase %d, expected after phase %d", s.phaseOld+1, max))
		}
		s.phase = min
		s.patternNumber = s.patternNumberOld + 1
		return
	}
	s.phase = s.phaseOld + 1
	s.patternNumber = s.patternNumberOld
	if s.phase > max {
		s.syncError(fmt.Sprintf("pattern sync missing after phase %d", max))
		s.phase = min
		s.patternNumber++
	}
}

func (s *state) setReportedBit(plus bool) {
	s.bitPlus = plus
	s.bitMinus = !plus
	if plus {
		s.reported = 1
	} else {
		s.reported = 0
	}
}

func (s *state) newPattern() bool {
	return s.phase == s.cfg.MinPatternPhase && s.patternNumber >= 0 && s.patternNumber != s.patternNumberOld
}

func (s *state) helicityAt(polarity int) int {
	if polarity == UndefinedHelicity || s.phase < s.cfg.MinPatternPhase || s.phase > s.cfg.MaxPatternPhase {
		return UndefinedHelicity
	}
	k := s.phase - s.cfg.MinPatternPhase
	return polarity ^ patternBit(s.cfg.BitPattern, k) ^ patternBit(s.cfg.BitPattern, 0)
}

func (s *state) resetPredictor() {
	s.pred.reset()
	s.actualPatternPolarity = UndefinedHelicity
	s.delayedPatternPolarity = UndefinedHelicity
}

// predictHelicity collects reported polarities until the seed is known,
// then steps the registers once per pattern and checks that the delayed
// prediction agrees with what the hardware reports.
func (s *state) predictHelicity() {
	if !s.pred.ready {
		if s.newPattern() {
			if len(s.pred.collected) > 0 && s.patternNumber != s.patternNumberOld+1 {
				s.resetPredictor()
			}
			if s.reported == UndefinedHelicity {
				s.resetPredictor()
				return
			}
			actual, done, err := s.pred.collect(s.reported)
			if err != nil {
				s.logError(err.Error())
				return
			}
			if done {
				s.previousPatternPolarity = s.actualPatternPolarity
				s.actualPatternPolarity = actual
				s.delayedPatternPolarity = s.reported
			}
		}
		if !s.pred.ready {
			return
		}
	} else if s.newPattern() {
		delta := s.patternNumber - s.patternNumberOld
		if delta <= 0 || delta > maxPatternAdvance {
			s.resetPredictor()
			return
		}
		for i := int64(0); i < delta; i++ {
			s.previousPatternPolarity = s.actualPatternPolarity
			s.actualPatternPolarity, s.delayedPatternPolarity = s.pred.advance()
		}
	}

	s.actual = s.helicityAt(s.actualPatternPolarity)
	s.delayed = s.helicityAt(s.delayedPatternPolarity)
	if s.delayed != s.reported {
		s.counters.HelicityErrors++
		s.errorFlag |= errflag.Helicity | errflag.GlobalCut | errflag.EventCutMode3
		s.logError(fmt.Sprintf("predicted delayed helicity %d differs from reported %d at event %d; resetting predictor",
			s.delayed, s.reported, s.eventNumber))
		s.resetPredictor()
	}
}

// finishEvent resolves the reported bits and runs or bypasses the predictor.
func (s *state) finishEvent() {
	if s.bitPlus == s.bitMinus {
		s.reported = UndefinedHelicity
	}
	if s.cfg.usePredictor() && !s.ignore {
		s.predictHelicity()
		return
	}
	s.actual = s.reported
	s.delayed = s.reported
	if s.phase == s.cfg.MinPatternPhase {
		s.previousPatternPolarity = s.actualPatternPolarity
		s.actualPatternPolarity = s.reported
		s.delayedPatternPolarity = s.reported
	}
}

// Helicity decodes helicity from mapped words of the input register,
// userbit or Moller counters, or makes it up locally.
type Helicity struct {
	state

	words           []word
	userbit         int
	scalerCounter   int
	inputRegister   int
	mpsCounter      int
	patternCounter  int
	patternPhase    int
	firstPattern    bool
	fakeCounters    bool
	localSeedActual uint32
	localSeed       uint32
}

type word struct {
	name   string
	bank   int
	offset int
	value  uint32
}

// New validates cfg and builds an empty decoder. Words are added with
// MapWord.
func New(cfg Config) (*Helicity, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Helicity{
		state:          newState(cfg),
		userbit:        -1,
		scalerCounter:  -1,
		inputRegister:  -1,
		mpsCounter:     -1,
		patternCounter: -1,
		patternPhase:   -1,
		firstPattern:   true,
	}
	return h, nil
}

// MapWord places a named data word at offset within a bank. The name
// selects its role the same way the map files spell it.
func (h *Helicity) MapWord(bank int, name string, offset int) {
	name = strings.ToLower(name)
	h.words = append(h.words, word{name: name, bank: bank, offset: offset})
	index := len(h.words) - 1
	switch {
	case strings.Contains(name, "userbit"):
		h.userbit = index
	case strings.Contains(name, "scalercounter"):
		h.scalerCounter = index
	case strings.Contains(name, "input_register"):
		h.inputRegister = index
	case strings.Contains(name, "mps_counter"):
		h.mpsCounter = index
	case strings.Contains(name, "pat_counter"):
		h.patternCounter = index
	case strings.Contains(name, "pat_phase"):
		h.patternPhase = index
	}
}

// Banks lists the banks that carry mapped words.
func (h *Helicity) Banks() []int {
	seen := map[int]bool{}
	var banks []int
	for _, w := range h.words {
		if !seen[w.bank] {
			seen[w.bank] = true
			banks = append(banks, w.bank)
		}
	}
	return banks
}

func (h *Helicity) Word(name string) (uint32, bool) {
	for _, w := range h.words {
		if w.name == name {
			return w.value, true
		}
	}
	return 0, false
}

func (h *Helicity) value(index int) uint32 {
	if index < 0 {
		return 0
	}
	return h.words[index].value
}

func (h *Helicity) ClearEventData() {
	h.state.ClearEventData()
	for i := range h.words {
		h.words[i].value = 0
	}
}

// ProcessEvBuffer copies the mapped words of bank out of buffer.
func (h *Helicity) ProcessEvBuffer(eventType int, bank int, buffer []uint32) error {
	h.eventType = eventType
	if len(buffer) == 0 {
		return nil
	}
	for i := range h.words {
		w := &h.words[i]
		if w.bank != bank {
			continue
		}
		if w.offset >= len(buffer) {
			logger.Warning(fmt.Sprintf("not enough words in the buffer to read %s: have %d, want word %d",
				w.name, len(buffer), w.offset), "helicity")
			continue
		}
		w.value = buffer[w.offset]
		h.dataLoaded = true
	}
	return nil
}

// SetEventType records the CODA event type, which carries the helicity in
// Moller mode.
func (h *Helicity) SetEventType(eventType int) { h.eventType = eventType }

// ProcessEvent decodes the words loaded for this event.
func (h *Helicity) ProcessEvent() error {
	h.errorFlag = 0
	if !h.dataLoaded && h.cfg.Mode != HelLocalyMadeUp {
		return nil
	}
	switch h.cfg.Mode {
	case UserbitMode:
		h.processUserbitMode()
	case InputRegisterMode:
		h.processInputRegisterMode()
	case InputMollerMode:
		h.processInputMollerMode()
	case HelLocalyMadeUp:
		h.processLocalyMadeUp()
	default:
		return &ErrUnknownDecodingMode{Mode: h.cfg.Mode.String()}
	}
	if h.cfg.Mode == HelLocalyMadeUp {
		return nil
	}
	h.finishEvent()
	return nil
}

func (h *Helicity) processUserbitMode() {
	scalerOffset := uint32(1)
	if h.scalerCounter >= 0 {
		scalerOffset = h.value(h.scalerCounter) / 32
	}
	if scalerOffset <= 1 {
		userbits := (h.value(h.userbit) & 0xE0000000) >> 28
		h.eventNumber = h.eventNumberOld + 1
		h.stepPhase(userbits&0x8 != 0)
		h.setReportedBit(userbits&0x4 != 0)
		return
	}

	h.logError(fmt.Sprintf("scaler counter shows %d events since the last read", scalerOffset))
	h.eventNumber = h.eventNumberOld + int64(scalerOffset)
	h.counters.MissedGates += int64(scalerOffset) - 1
	h.counters.MissedEventBlocks++
	h.errorFlag |= syncErrorFlag

	phase, pattern := h.phaseOld, h.patternNumberOld
	if pattern >= 0 && phase >= h.cfg.MinPatternPhase {
		length := h.cfg.patternLength()
		steps := int(scalerOffset)
		offset := phase - h.cfg.MinPatternPhase + steps
		pattern += int64(offset / length)
		phase = h.cfg.MinPatternPhase + offset%length
	}
	h.phase, h.patternNumber = phase, pattern
	h.reported = UndefinedHelicity
	h.bitPlus, h.bitMinus = false, false
	h.resetPredictor()
}

func (h *Helicity) inputRegisterHas(register, mask uint32) bool {
	return mask != 0 && register&mask == mask
}

func (h *Helicity) processInputRegisterMode() {
	register := h.value(h.inputRegister)
	if h.firstPattern {
		h.fakeCounters = h.fakeCounters || h.patternCounter < 0 || h.mpsCounter < 0 || h.patternPhase < 0
	}
	h.ignore = h.inputRegisterHas(register, h.cfg.InputRegFakeMPS)
	sync := h.inputRegisterHas(register, h.cfg.InputRegPatternSync)

	if !h.fakeCounters {
		h.eventNumber = int64(h.value(h.mpsCounter))
		phaseWord := int(h.value(h.patternPhase))
		if h.firstPattern && phaseWord-h.cfg.PatternPhaseOffset == 0 && sync {
			h.firstPattern = false
		}
		if h.firstPattern {
			h.patternNumber = -1
		} else {
			h.patternNumber = int64(h.value(h.patternCounter))
			h.phase = phaseWord - h.cfg.PatternPhaseOffset + h.cfg.MinPatternPhase
		}
	} else {
		h.eventNumber = h.eventNumberOld + 1
		h.stepPhase(sync)
	}

	h.checkEventGap()

	if !h.fakeCounters && sync && h.phase != h.cfg.MinPatternPhase {
		h.syncError(fmt.Sprintf("pattern sync bit set at phase %d, not %d; check patternphaseoffset",
			h.phase, h.cfg.MinPatternPhase))
	}

	plus := h.inputRegisterHas(register, h.cfg.InputRegHelPlus)
	minus := h.inputRegisterHas(register, h.cfg.InputRegHelMinus)
	switch {
	case plus && minus:
		h.logError(fmt.Sprintf("both helicity bits set in input register 0x%x", register))
		h.reported = UndefinedHelicity
		h.bitPlus, h.bitMinus = false, false
		h.errorFlag |= errflag.Helicity
	default:
		h.setReportedBit(plus)
	}
}

func (h *Helicity) processInputMollerMode() {
	counter := int64(h.value(h.patternCounter))
	if h.firstPattern && counter > h.patternNumberOld {
		h.firstPattern = false
	}
	h.eventNumber = int64(h.value(h.mpsCounter))
	h.checkEventGap()

	if h.firstPattern {
		h.patternNumber = -1
		h.phase = h.cfg.MinPatternPhase
	} else {
		h.patternNumber = counter
		if h.patternNumber > h.patternNumberOld {
			h.phase = h.cfg.MinPatternPhase
		} else {
			h.phase = h.phaseOld + 1
		}
	}

	switch h.eventType {
	case h.cfg.EventTypeHelPlus:
		h.setReportedBit(true)
	case h.cfg.EventTypeHelMinus:
		h.setReportedBit(false)
	default:
		h.reported = UndefinedHelicity
		h.bitPlus, h.bitMinus = false, true
	}
}

// processLocalyMadeUp generates a pattern sequence with the same
// pseudorandom registers the source uses. The reported helicity lags the
// actual one by the configured delay.
func (h *Helicity) processLocalyMadeUp() {
	h.eventNumber = h.eventNumberOld + 1
	h.stepPhase(h.patternNumberOld < 0 || h.phaseOld >= h.cfg.MaxPatternPhase)

	if h.patternNumber == 0 && h.newPattern() {
		seedMask := mask30
		if h.cfg.RandBits == 24 {
			seedMask = mask24
		}
		h.localSeed = h.cfg.LocalSeed & seedMask
		h.localSeedActual = h.localSeed
		for i := 0; i < h.cfg.Delay; i++ {
			h.pred.next(&h.localSeedActual)
		}
	}
	if h.newPattern() {
		h.previousPatternPolarity = h.actualPatternPolarity
		h.actualPatternPolarity = h.pred.next(&h.localSeedActual)
		h.delayedPatternPolarity = h.pred.next(&h.localSeed)
	}
	h.actual = h.helicityAt(h.actualPatternPolarity)
	h.delayed = h.helicityAt(h.delayedPatternPolarity)
	h.reported = h.delayed
	h.bitPlus = h.reported == 1
	h.bitMinus = h.reported == 0
}

// Add merges another decoder's event into this one: the flags are ORed and
// a disagreement on pattern number or polarity marks the pattern invalid.
func (h *Helicity) Add(other *Helicity) {
	h.errorFlag |= other.errorFlag
	if h.patternNumber != other.patternNumber || h.actualPatternPolarity != other.actualPatternPolarity {
		h.patternNumber = -999999
		h.actualPatternPolarity = UndefinedHelicity
		h.errorFlag |= errflag.Helicity | errflag.GlobalCut
	}
	h.mergeCounters(other)
}

func (h *Helicity) mergeCounters(other *Helicity) {
	if other.eventNumber > 0 && (h.eventNumber <= 0 || other.eventNumber < h.eventNumber) {
		h.eventNumber = other.eventNumber
	}
	if other.eventNumberFirst > 0 && (h.eventNumberFirst <= 0 || other.eventNumberFirst < h.eventNumberFirst) {
		h.eventNumberFirst = other.eventNumberFirst
	}
}
