package helicity

import "fmt"

const (
	boardDecoderWords = 14
	boardMinWords     = boardDecoderWords + 4

	boardTypeDefining   = 0x80000000
	boardTypeMask       = 0x78000000
	boardTypeShift      = 27
	boardDecoderCountM  = 0x3F
	boardTypeFiller     = 15
	boardTypeDecoderHdr = 8
	boardTypeBlockHdr   = 0
	boardTypeBlockTrl   = 1
	boardTypeEventHdr   = 2
	boardTypeTrigTime   = 3
)

// BoardWords are the helicity decoder board registers of one event.
type BoardWords struct {
	Seed                    uint32
	NumTStableFall          uint32
	EventNumber             uint32
	PatternNumber           uint32
	NumPairSync             uint32
	TimeSinceTStable        uint32
	TimeSinceTSettle        uint32
	LastDurationTStable     uint32
	LastDurationTSettle     uint32
	PatternPhase            int
	EventPolarity           int
	ReportedPatternHelicity int
	Helicity                int
	PairSync                int
	PatternSync             int
	TStable                 int
	EventHistoryPatternSync uint32
	EventHistoryPairSync    uint32
	EventHistoryHelicity    uint32
	PatternHistoryHelicity  uint32
	BlockNumber             uint32
	BlockEvents             uint32
	TriggerTime             uint32
	TriggerTimeHigh         uint32
}

// Board decodes the typed-word stream of the helicity decoder board,
// which reports the seed and phase itself instead of raw bits.
type Board struct {
	state
	bank  int
	words BoardWords
}

func NewBoard(cfg Config, bank int) (*Board, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Board{state: newState(cfg), bank: bank}, nil
}

func (b *Board) Words() BoardWords { return b.words }

func (b *Board) Banks() []int { return []int{b.bank} }

func (b *Board) ClearEventData() {
	b.state.ClearEventData()
	b.words = BoardWords{}
}

// ProcessEvBuffer walks the typed words. A defining word has bit 31 set
// and its type in bits 30..27; the decoder header announces how many data
// words follow it.
func (b *Board) ProcessEvBuffer(eventType int, bank int, buffer []uint32) error {
	if bank != b.bank || len(buffer) == 0 {
		return nil
	}
	b.eventType = eventType
	if len(buffer) < boardMinWords {
		return &ErrShortBank{Words: len(buffer), Need: boardMinWords}
	}
	b.dataLoaded = true

	typeLast := uint32(boardTypeFiller)
	decoderIndex, decoderWords := 0, 1
	triggerTimeLast := 0
	for _, data := range buffer {
		if decoderIndex > 0 {
			b.fillDecoderWord(data, decoderIndex-1)
			if decoderIndex < decoderWords {
				decoderIndex++
			} else {
				decoderIndex, decoderWords = 0, 1
			}
			continue
		}

		newType := data&boardTypeDefining != 0
		kind := typeLast
		if newType {
			kind = (data & boardTypeMask) >> boardTypeShift
		}
		switch kind {
		case boardTypeBlockHdr:
			b.words.BlockEvents = data & 0xFF
			b.words.BlockNumber = (data & 0x3FF00) >> 8
		case boardTypeBlockTrl:
		case boardTypeEventHdr:
		case boardTypeTrigTime:
			if newType {
				b.words.TriggerTime = data & 0x7FFFFFF
				triggerTimeLast = 1
			} else if triggerTimeLast == 1 {
				b.words.TriggerTimeHigh = data & 0xFFFFF
				triggerTimeLast = 2
			}
		case boardTypeDecoderHdr:
			decoderWords = int(data & boardDecoderCountM)
			decoderIndex = 1
		}
		typeLast = kind
	}
	return nil
}

func (b *Board) fillDecoderWord(data uint32, index int) {
	w := &b.words
	switch index {
	case 0:
		w.Seed = data
	case 1:
		w.NumTStableFall = data
	case 2:
		w.EventNumber = data
	case 3:
		w.PatternNumber = data
	case 4:
		w.NumPairSync = data
	case 5:
		w.TimeSinceTStable = data
	case 6:
		w.TimeSinceTSettle = data
	case 7:
		w.LastDurationTStable = data
	case 8:
		w.LastDurationTSettle = data
	case 9:
		w.PatternPhase = int((data>>8)&0xff) + 1
		w.EventPolarity = int((data >> 5) & 1)
		w.ReportedPatternHelicity = int((data >> 4) & 1)
		w.Helicity = int((data >> 3) & 1)
		w.PairSync = int((data >> 2) & 1)
		w.PatternSync = int((data >> 1) & 1)
		w.TStable = int(data & 1)
	case 10:
		w.EventHistoryPatternSync = data
	case 11:
		w.EventHistoryPairSync = data
	case 12:
		w.EventHistoryHelicity = data
	case 13:
		w.PatternHistoryHelicity = data
	}
}

// ProcessEvent uses the board's counters and seed. The seed is installed
// at every pattern start, so the predictor never has to collect bits.
func (b *Board) ProcessEvent() error {
	b.errorFlag = 0
	if !b.dataLoaded {
		return nil
	}
	b.eventNumber = int64(b.words.EventNumber)
	b.patternNumber = int64(b.words.PatternNumber)
	b.phase = b.words.PatternPhase
	b.checkEventGap()

	b.setReportedBit(b.words.Helicity == 1)
	if b.words.PatternSync == 1 && b.phase != b.cfg.MinPatternPhase {
		b.syncError(fmt.Sprintf("board pattern sync at phase %d", b.phase))
	}

	if !b.cfg.usePredictor() {
		b.actual = b.reported
		b.delayed = b.reported
		return nil
	}
	if b.newPattern() {
		b.previousPatternPolarity = b.actualPatternPolarity
		b.delayedPatternPolarity = b.words.ReportedPatternHelicity
		b.actualPatternPolarity = b.pred.setSeed(b.words.Seed&0x7fffffff, b.words.ReportedPatternHelicity)
	}
	if b.actualPatternPolarity == UndefinedHelicity {
		return nil
	}
	b.actual = b.actualPatternPolarity ^ b.words.EventPolarity
	b.delayed = b.delayedPatternPolarity ^ b.words.EventPolarity
	if b.delayed != b.reported {
		b.counters.HelicityErrors++
		b.errorFlag |= syncErrorFlag
		b.logError(fmt.Sprintf("board helicity %d differs from pattern polarity %d at event %d",
			b.reported, b.delayed, b.eventNumber))
	}
	return nil
}
