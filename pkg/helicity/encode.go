package helicity

import "fmt"

const (
	userbitSyncBit     uint32 = 0x80000000
	userbitHelicityBit uint32 = 0x40000000
	userbitPadding            = 64
	inputRegPadding           = 17
)

// EncodeEventData writes the current event as the ROC bank the hardware
// would produce in mode, for building mock streams. The bank holds one
// sub-bank with the words in the order the default maps expect.
func (s *state) EncodeEventData(mode DecodingMode, roc, bank uint32) ([]uint32, error) {
	var local []uint32
	switch mode {
	case UserbitMode:
		var userbit uint32
		if s.phase == s.cfg.MinPatternPhase {
			userbit |= userbitSyncBit
		}
		if s.delayed == 1 {
			userbit |= userbitHelicityBit
		}
		// cleandata, scandata1, scandata2, scaler header, scaler counter, userbit
		local = append(local, 0x1, 0xa, 0xa, 0x0, 0x20, userbit)
		local = append(local, make([]uint32, userbitPadding)...)
	case InputRegisterMode:
		var register uint32
		switch s.delayed {
		case 1:
			register |= s.cfg.InputRegHelPlus
		case 0:
			register |= s.cfg.InputRegHelMinus
		}
		if s.phase == s.cfg.MinPatternPhase {
			register |= s.cfg.InputRegPatternSync
		}
		phaseWord := s.phase - s.cfg.MinPatternPhase + s.cfg.PatternPhaseOffset
		// input register, output register, mps counter, pattern counter, pattern phase
		local = append(local, register, 0x0, uint32(s.eventNumber), uint32(s.patternNumber), uint32(phaseWord))
		local = append(local, make([]uint32, inputRegPadding)...)
	default:
		return nil, fmt.Errorf("helicity encoding not supported for %v", mode)
	}

	subbankHeader := []uint32{uint32(len(local) + 1), (bank << 16) | (0x01 << 8) | 1}
	rocHeader := []uint32{uint32(len(subbankHeader) + len(local) + 1), (roc << 16) | (0x10 << 8) | 1}

	buffer := make([]uint32, 0, len(rocHeader)+len(subbankHeader)+len(local))
	buffer = append(buffer, rocHeader...)
	buffer = append(buffer, subbankHeader...)
	buffer = append(buffer, local...)
	return buffer, nil
}
