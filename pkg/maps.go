package decoder

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/parity-daq/decoder_go/pkg/channels"
	"github.com/parity-daq/decoder_go/pkg/errflag"
	"github.com/parity-daq/decoder_go/pkg/helicity"
)

// mapLine is one meaningful line of a map or parameter file, with the
// "!" comment and surrounding blanks removed.
type mapLine struct {
	number int
	text   string
}

func readMapFile(filename string) ([]mapLine, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, &ErrOpenFile{Filename: filename, Err: err}
	}
	defer file.Close()

	var lines []mapLine
	scanner := bufio.NewScanner(file)
	number := 0
	for scanner.Scan() {
		number++
		text := scanner.Text()
		if comment := strings.IndexByte(text, '!'); comment >= 0 {
			text = text[:comment]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		lines = append(lines, mapLine{number: number, text: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", filename, err)
	}
	return lines, nil
}

// keyValue splits "key = value" lines. Rows with commas are data rows.
func (l mapLine) keyValue() (key, value string, ok bool) {
	if strings.Contains(l.text, ",") {
		return "", "", false
	}
	key, value, ok = strings.Cut(l.text, "=")
	if !ok {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value), true
}

func (l mapLine) fields() []string {
	fields := strings.Split(l.text, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

func parseWord(value string) (uint32, error) {
	word, err := strconv.ParseUint(value, 0, 32)
	return uint32(word), err
}

// bankCursor follows the ROC=, Bank= and MarkerWord= declarations and the
// word offset inside the current bank.
type bankCursor struct {
	roc      uint32
	bank     uint32
	marker   uint32
	declared bool
	words    int
}

func (c *bankCursor) declare(key, value string) (bool, error) {
	switch key {
	case "roc", "bank", "markerword":
	default:
		return false, nil
	}
	word, err := parseWord(value)
	if err != nil {
		return true, err
	}
	switch key {
	case "roc":
		c.roc, c.bank, c.marker = word, 0, 0
	case "bank":
		c.bank, c.marker = word, 0
	case "markerword":
		c.marker = word
	}
	c.declared = true
	c.words = 0
	return true, nil
}

func (c *bankCursor) bankID() BankID { return EffectiveBank(c.marker, c.bank) }

// skip advances over a SKIP row: n words, or one when n is not positive.
func (c *bankCursor) skip(n int) {
	if n <= 0 {
		n = 1
	}
	c.words += n
}

// ChannelEntry is one channel row of a channel map.
type ChannelEntry struct {
	ModuleType string
	Slot       int
	Channel    int
	DeviceKind string
	Name       string
	Keyword    string
	ROC        uint32
	Bank       BankID
	Offset     int
}

// ChannelMap is a parsed channel map. Its subsystem is named after the
// file.
type ChannelMap struct {
	Subsystem  string
	Entries    []ChannelEntry
	Bindings   []Binding
	SampleSize int
	NormClock  string
}

func subsystemName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func LoadChannelMap(filename string) (*ChannelMap, error) {
	lines, err := readMapFile(filename)
	if err != nil {
		return nil, err
	}
	cmap := &ChannelMap{Subsystem: subsystemName(filename)}
	var cursor bankCursor
	bindings := make(map[bankKey]int)

	for _, line := range lines {
		if key, value, ok := line.keyValue(); ok {
			declared, err := cursor.declare(key, value)
			if err != nil {
				return nil, &ErrMapFile{Filename: filename, Line: line.number, Reason: err.Error()}
			}
			if declared {
				continue
			}
			switch key {
			case "sample_size":
				if cmap.SampleSize, err = strconv.Atoi(value); err != nil {
					return nil, &ErrMapFile{Filename: filename, Line: line.number, Reason: err.Error()}
				}
			case "normclock":
				cmap.NormClock = strings.ToLower(value)
			default:
				logger.Warning(fmt.Sprintf("%s:%d: ignoring unknown key %q", filename, line.number, key), "maps")
			}
			continue
		}

		fields := line.fields()
		moduleType := strings.ToUpper(fields[0])
		if moduleType == "SKIP" {
			n := 1
			if len(fields) > 1 {
				n, _ = strconv.Atoi(fields[1])
			}
			cursor.skip(n)
			continue
		}
		if len(fields) < 5 {
			return nil, &ErrMapFile{Filename: filename, Line: line.number,
				Reason: fmt.Sprintf("want moduletype, slot, channel, kind, name; got %d fields", len(fields))}
		}
		if !cursor.declared {
			return nil, &ErrMapFile{Filename: filename, Line: line.number, Reason: "channel before any ROC/Bank declaration"}
		}
		slot, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, &ErrMapFile{Filename: filename, Line: line.number, Reason: fmt.Sprintf("slot: %v", err)}
		}
		channel, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, &ErrMapFile{Filename: filename, Line: line.number, Reason: fmt.Sprintf("channel: %v", err)}
		}
		layout, ok := layoutOf(moduleType)
		if !ok {
			return nil, &ErrMapFile{Filename: filename, Line: line.number, Reason: fmt.Sprintf("unknown module type %q", fields[0])}
		}
		entry := ChannelEntry{
			ModuleType: moduleType,
			Slot:       slot,
			Channel:    channel,
			DeviceKind: strings.ToLower(fields[3]),
			Name:       strings.ToLower(fields[4]),
			ROC:        cursor.roc,
			Bank:       cursor.bankID(),
			Offset:     cursor.words + (slot*layout.perModule+channel)*layout.perChannel,
		}
		if len(fields) > 5 {
			entry.Keyword = strings.ToLower(fields[5])
		}
		cmap.Entries = append(cmap.Entries, entry)

		key := bankKey{cursor.roc, cursor.bank}
		index, seen := bindings[key]
		if !seen {
			index = len(cmap.Bindings)
			bindings[key] = index
			cmap.Bindings = append(cmap.Bindings, Binding{Owner: cmap.Subsystem, ROC: cursor.roc, Bank: cursor.bank})
		}
		if cursor.marker != 0 {
			binding := &cmap.Bindings[index]
			if len(binding.Markers) == 0 || binding.Markers[len(binding.Markers)-1] != cursor.marker {
				binding.Markers = append(binding.Markers, cursor.marker)
			}
		}
	}
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Loaded %d channels of %s", len(cmap.Entries), cmap.Subsystem), "maps")
	}
	return cmap, nil
}

// PedestalEntry holds the calibration of one channel.
type PedestalEntry struct {
	Name        string
	Pedestal    float64
	Calibration float64
}

// LoadPedestals reads "name, pedestal, calibration" rows.
func LoadPedestals(filename string) ([]PedestalEntry, error) {
	lines, err := readMapFile(filename)
	if err != nil {
		return nil, err
	}
	entries := make([]PedestalEntry, 0, len(lines))
	for _, line := range lines {
		fields := line.fields()
		if len(fields) < 3 {
			return nil, &ErrMapFile{Filename: filename, Line: line.number, Reason: "want name, pedestal, calibration"}
		}
		values, err := parseFloats(fields[1:3])
		if err != nil {
			return nil, &ErrMapFile{Filename: filename, Line: line.number, Reason: err.Error()}
		}
		entries = append(entries, PedestalEntry{
			Name:        strings.ToLower(fields[0]),
			Pedestal:    values[0],
			Calibration: values[1],
		})
	}
	return entries, nil
}

// CutEntry is the single-event cut of one channel.
type CutEntry struct {
	Name      string
	Lower     float64
	Upper     float64
	Global    bool
	Stability float64
	Burp      float64
}

type CutsFile struct {
	EventCutMode int
	BurpHoldoff  int
	Entries      []CutEntry
}

// ErrorFlag is the cut-class bits the entry raises when it fails.
func (c CutEntry) ErrorFlag(eventCutMode int) uint32 {
	evType := "l"
	if c.Global {
		evType = "g"
	}
	return errflag.Global(evType, eventCutMode, c.Stability)
}

// LoadCuts reads "name, lower, upper, g|l, stability, burp" rows and the
// eventcutmode and burpholdoff globals.
func LoadCuts(filename string) (*CutsFile, error) {
	lines, err := readMapFile(filename)
	if err != nil {
		return nil, err
	}
	cuts := &CutsFile{EventCutMode: 2, BurpHoldoff: -1}
	for _, line := range lines {
		if key, value, ok := line.keyValue(); ok {
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, &ErrMapFile{Filename: filename, Line: line.number, Reason: err.Error()}
			}
			switch key {
			case "eventcutmode":
				cuts.EventCutMode = n
			case "burpholdoff":
				cuts.BurpHoldoff = n
			default:
				logger.Warning(fmt.Sprintf("%s:%d: ignoring unknown key %q", filename, line.number, key), "maps")
			}
			continue
		}
		fields := line.fields()
		if len(fields) < 3 {
			return nil, &ErrMapFile{Filename: filename, Line: line.number, Reason: "want name, lower, upper[, g|l, stability, burp]"}
		}
		limits, err := parseFloats(fields[1:3])
		if err != nil {
			return nil, &ErrMapFile{Filename: filename, Line: line.number, Reason: err.Error()}
		}
		entry := CutEntry{Name: strings.ToLower(fields[0]), Lower: limits[0], Upper: limits[1]}
		if len(fields) > 3 {
			entry.Global = strings.EqualFold(fields[3], "g")
		}
		if len(fields) > 5 {
			extra, err := parseFloats(fields[4:6])
			if err != nil {
				return nil, &ErrMapFile{Filename: filename, Line: line.number, Reason: err.Error()}
			}
			entry.Stability, entry.Burp = extra[0], extra[1]
		}
		cuts.Entries = append(cuts.Entries, entry)
	}
	return cuts, nil
}

func parseFloats(fields []string) ([]float64, error) {
	values := make([]float64, len(fields))
	for i, field := range fields {
		value, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, err
		}
		values[i] = value
	}
	return values, nil
}

// HelicityWord places one helicity data word.
type HelicityWord struct {
	Name   string
	ROC    uint32
	Bank   BankID
	Offset int
}

// HelicityMap is a parsed helicity map. With Board set the words are
// ignored and the first declared bank carries the decoder board stream.
type HelicityMap struct {
	Subsystem string
	Config    helicity.Config
	Words     []HelicityWord
	Bindings  []Binding
	Board     bool
	BoardROC  uint32
	BoardBank uint32
}

func LoadHelicityMap(filename string) (*HelicityMap, error) {
	lines, err := readMapFile(filename)
	if err != nil {
		return nil, err
	}
	hmap := &HelicityMap{Subsystem: subsystemName(filename), Config: helicity.DefaultConfig()}
	cfg := &hmap.Config
	var cursor bankCursor
	firstBank := true

	for _, line := range lines {
		key, value, ok := line.keyValue()
		if ok {
			declared, err := cursor.declare(key, value)
			if err != nil {
				return nil, &ErrMapFile{Filename: filename, Line: line.number, Reason: err.Error()}
			}
			if declared {
				if key != "markerword" && firstBank && cursor.bank != 0 {
					hmap.BoardROC, hmap.BoardBank = cursor.roc, cursor.bank
					firstBank = false
				}
				continue
			}
			if err := hmap.setKey(key, value); err != nil {
				var unknown *helicity.ErrUnknownDecodingMode
				if errors.As(err, &unknown) {
					return nil, &ErrFatal{Reason: fmt.Sprintf("%s:%d", filename, line.number), Err: err}
				}
				return nil, &ErrMapFile{Filename: filename, Line: line.number, Reason: err.Error()}
			}
			continue
		}

		fields := line.fields()
		moduleType := strings.ToUpper(fields[0])
		if moduleType == "SKIP" {
			n := 1
			if len(fields) > 1 {
				n, _ = strconv.Atoi(fields[1])
			}
			cursor.skip(n)
			continue
		}
		if len(fields) < 5 || moduleType != "WORD" || !strings.EqualFold(fields[3], "helicitydata") {
			logger.Warning(fmt.Sprintf("%s:%d: unknown helicity row %q is not decoded", filename, line.number, line.text), "maps")
			continue
		}
		if !cursor.declared {
			return nil, &ErrMapFile{Filename: filename, Line: line.number, Reason: "word before any ROC/Bank declaration"}
		}
		hmap.Words = append(hmap.Words, HelicityWord{
			Name:   strings.ToLower(fields[4]),
			ROC:    cursor.roc,
			Bank:   cursor.bankID(),
			Offset: cursor.words,
		})
		cursor.words++
		hmap.addBinding(cursor.roc, cursor.bank, cursor.marker)
	}
	if hmap.Board {
		hmap.Bindings = nil
		hmap.addBinding(hmap.BoardROC, hmap.BoardBank, 0)
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ErrMapFile{Filename: filename, Reason: err.Error()}
	}
	return hmap, nil
}

func (m *HelicityMap) addBinding(roc, bank, marker uint32) {
	for i := range m.Bindings {
		binding := &m.Bindings[i]
		if binding.ROC != roc || binding.Bank != bank {
			continue
		}
		if marker != 0 && (len(binding.Markers) == 0 || binding.Markers[len(binding.Markers)-1] != marker) {
			binding.Markers = append(binding.Markers, marker)
		}
		return
	}
	binding := Binding{Owner: m.Subsystem, ROC: roc, Bank: bank}
	if marker != 0 {
		binding.Markers = []uint32{marker}
	}
	m.Bindings = append(m.Bindings, binding)
}

func (m *HelicityMap) setKey(key, value string) error {
	cfg := &m.Config
	if key == "helicitydecodingmode" {
		mode, err := helicity.ParseDecodingMode(value)
		if err != nil {
			return err
		}
		cfg.Mode = mode
		return nil
	}
	if key == "patternbits" {
		pattern, err := helicity.ParseBitPattern(value)
		if err != nil {
			return err
		}
		cfg.BitPattern = pattern
		return nil
	}

	word, err := parseWord(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	switch key {
	case "patternphase":
		cfg.MaxPatternPhase = int(word)
		cfg.BitPattern = nil
	case "patternphaseoffset":
		cfg.PatternPhaseOffset = int(word)
	case "inputregmask_fakemps", "fakempsbit":
		cfg.InputRegFakeMPS = word
	case "inputregmask_helicity":
		cfg.InputRegHelPlus = word
		cfg.InputRegHelMinus = 0
	case "inputregmask_helplus":
		cfg.InputRegHelPlus = word
	case "inputregmask_helminus":
		cfg.InputRegHelMinus = word
	case "inputregmask_pattsync":
		cfg.InputRegPatternSync = word
	case "inputregmask_pairsync":
		cfg.InputRegPairSync = word
	case "numberpatternsdelayed":
		cfg.Delay = int(word)
	case "randseedbits":
		cfg.RandBits = int(word)
	case "helpluseventtype":
		cfg.EventTypeHelPlus = int(word)
	case "helminuseventtype":
		cfg.EventTypeHelMinus = int(word)
	case "togglemode":
		cfg.ToggleMode = word != 0
	case "helicitydecoderboard":
		m.Board = word != 0
	default:
		logger.Warning(fmt.Sprintf("ignoring unknown helicity key %q", key), "maps")
	}
	return nil
}

type moduleLayout struct {
	perChannel int
	perModule  int
}

func layoutOf(moduleType string) (moduleLayout, bool) {
	words, ok := channels.WordsPerChannel(moduleType)
	if !ok {
		return moduleLayout{}, false
	}
	perModule, _ := channels.ChannelsPerModule(moduleType)
	return moduleLayout{perChannel: words, perModule: perModule}, true
}
