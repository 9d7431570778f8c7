package decoder

import (
	"fmt"

	"github.com/parity-daq/decoder_go/pkg/channels"
	"github.com/parity-daq/decoder_go/pkg/errflag"
	"github.com/parity-daq/decoder_go/pkg/helicity"
)

// Subsystem decodes the banks it registered for.
type Subsystem interface {
	Name() string
	ClearEventData()
	ProcessEvBuffer(eventType int, roc uint32, bank BankID, data []uint32) error
	ProcessEvent() error
}

// ChannelSubsystem owns the channels of one channel map, with the running
// sums and the previous event kept alongside each of them.
type ChannelSubsystem struct {
	name     string
	registry *Registry
	entries  []ChannelEntry
	channels []channels.Channel
	byName   map[string]int

	previous     []channels.Channel
	havePrevious bool
	running      []channels.Channel
	windows      []*channels.Window
}

// NewChannelSubsystem builds the channels of cmap and claims their banks
// in registry. With a positive stabilityWindow the stability cuts measure
// against a moving window instead of the whole run.
func NewChannelSubsystem(cmap *ChannelMap, registry *Registry, stabilityWindow int) (*ChannelSubsystem, error) {
	s := &ChannelSubsystem{
		name:     cmap.Subsystem,
		registry: registry,
		entries:  cmap.Entries,
		byName:   make(map[string]int, len(cmap.Entries)),
	}
	for _, binding := range cmap.Bindings {
		if err := registry.Register(s.name, binding.ROC, binding.Bank, binding.Markers...); err != nil {
			return nil, err
		}
	}

	for index, entry := range cmap.Entries {
		if _, dup := s.byName[entry.Name]; dup {
			return nil, fmt.Errorf("channel %q appears twice in %s", entry.Name, s.name)
		}
		ch, err := channels.NewChannel(entry.ModuleType, entry.Name)
		if err != nil {
			return nil, err
		}
		ch.Hardware().SetSubsystemName(s.name)
		switch c := ch.(type) {
		case *channels.IntegratingChannel:
			if cmap.SampleSize > 0 {
				c.SetDefaultSampleSize(cmap.SampleSize)
			}
		case *channels.ScalerChannel:
			c.SetDifferential(entry.Keyword == "differential" || entry.Keyword == "diff")
		}
		ref := ChannelRef{Owner: s.name, Index: index, Offset: entry.Offset}
		if err := registry.RegisterChannel(entry.ROC, entry.Bank, ref); err != nil {
			return nil, err
		}
		s.byName[entry.Name] = index
		s.channels = append(s.channels, ch)
	}

	if cmap.NormClock != "" {
		if err := s.setNormClock(cmap.NormClock); err != nil {
			return nil, err
		}
	}

	for _, ch := range s.channels {
		s.previous = append(s.previous, ch.Clone())
		running := ch.Clone()
		running.ClearEventData()
		s.running = append(s.running, running)
		if stabilityWindow > 0 {
			window := channels.NewWindow(ch, stabilityWindow)
			s.windows = append(s.windows, window)
			ch.Hardware().SetStabilityReference(window)
		} else {
			ch.Hardware().SetStabilityReference(running.Hardware())
		}
	}
	return s, nil
}

func (s *ChannelSubsystem) setNormClock(name string) error {
	index, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("normalization clock %q is not a channel of %s", name, s.name)
	}
	clock, ok := s.channels[index].(*channels.ScalerChannel)
	if !ok {
		return fmt.Errorf("normalization clock %q of %s is not a scaler", name, s.name)
	}
	for i, ch := range s.channels {
		if scaler, ok := ch.(*channels.ScalerChannel); ok && i != index {
			scaler.SetExternalClock(clock)
		}
	}
	return nil
}

func (s *ChannelSubsystem) Name() string { return s.name }

func (s *ChannelSubsystem) Channels() []channels.Channel { return s.channels }

func (s *ChannelSubsystem) Channel(name string) (channels.Channel, bool) {
	index, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return s.channels[index], true
}

// Running is the run-long running sum of a channel.
func (s *ChannelSubsystem) Running(name string) (channels.Channel, bool) {
	index, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return s.running[index], true
}

func (s *ChannelSubsystem) ClearEventData() {
	for _, ch := range s.channels {
		ch.ClearEventData()
	}
}

func (s *ChannelSubsystem) ProcessEvBuffer(eventType int, roc uint32, bank BankID, data []uint32) error {
	for _, ref := range s.registry.Channels(roc, bank) {
		if ref.Owner != s.name {
			continue
		}
		if _, err := s.channels[ref.Index].ProcessEvBuffer(data, ref.Offset); err != nil {
			return err
		}
	}
	return nil
}

func (s *ChannelSubsystem) ProcessEvent() error {
	for _, ch := range s.channels {
		ch.ProcessEvent()
	}
	return nil
}

// ApplyChecks runs the hardware checks and single-event cuts. It reports
// whether every channel passed.
func (s *ChannelSubsystem) ApplyChecks() bool {
	ok := true
	for _, ch := range s.channels {
		if !ch.ApplyHWChecks() {
			ok = false
		}
		if !ch.ApplySingleEventCuts() {
			ok = false
		}
	}
	return ok
}

// CheckBurp compares each channel with the previous event, then keeps
// this event as the new previous one.
func (s *ChannelSubsystem) CheckBurp() error {
	for i, ch := range s.channels {
		if s.havePrevious {
			if _, err := ch.CheckForBurpFail(s.previous[i]); err != nil {
				return err
			}
		}
		if err := s.previous[i].AssignChannel(ch); err != nil {
			return err
		}
	}
	s.havePrevious = true
	return nil
}

// Accumulate adds the event to the running sums. Flagged channels carry
// no weight.
func (s *ChannelSubsystem) Accumulate() error {
	for i, ch := range s.channels {
		if err := s.running[i].AccumulateChannel(ch, 0, errflag.DefaultMask); err != nil {
			return err
		}
		if s.windows != nil {
			if err := s.windows[i].Push(ch); err != nil {
				return err
			}
		}
	}
	return nil
}

// ErrorFlag is the OR of the channel flags of this event.
func (s *ChannelSubsystem) ErrorFlag() uint32 {
	var flag uint32
	for _, ch := range s.channels {
		flag |= ch.ErrorFlag()
	}
	return flag
}

func (s *ChannelSubsystem) ApplyPedestals(entries []PedestalEntry) {
	for _, entry := range entries {
		index, ok := s.byName[entry.Name]
		if !ok {
			if configuration.Verbosity > 0 {
				logger.Warning(fmt.Sprintf("no channel %q in %s for pedestal", entry.Name, s.name), "subsystem")
			}
			continue
		}
		hardware := s.channels[index].Hardware()
		hardware.SetPedestal(entry.Pedestal)
		hardware.SetCalibrationFactor(entry.Calibration)
	}
}

// ApplyCuts sets the event-cut mode on every channel and the limits on
// those the file names.
func (s *ChannelSubsystem) ApplyCuts(cuts *CutsFile) {
	for _, ch := range s.channels {
		ch.Hardware().SetEventCutMode(cuts.EventCutMode)
		if cuts.BurpHoldoff >= 0 {
			ch.Hardware().SetBurpHoldoff(cuts.BurpHoldoff)
		}
	}
	for _, entry := range cuts.Entries {
		index, ok := s.byName[entry.Name]
		if !ok {
			continue
		}
		s.channels[index].Hardware().SetSingleEventCuts(entry.ErrorFlag(cuts.EventCutMode),
			entry.Lower, entry.Upper, entry.Stability, entry.Burp)
	}
}

// Finish turns the running moments into errors on the means.
func (s *ChannelSubsystem) Finish() {
	for _, running := range s.running {
		running.CalculateRunningAverage()
	}
}

type helicityDecoder interface {
	ClearEventData()
	AbortEvent()
	ProcessEvBuffer(eventType int, bank int, buffer []uint32) error
	ProcessEvent() error
	Snapshot() helicity.Snapshot
	Counters() helicity.Counters
	ErrorFlag() uint32
}

// HelicitySubsystem runs either the register decoder or the decoder
// board, as the helicity map asks.
type HelicitySubsystem struct {
	name    string
	decoder helicityDecoder
}

func NewHelicitySubsystem(hmap *HelicityMap, registry *Registry) (*HelicitySubsystem, error) {
	s := &HelicitySubsystem{name: hmap.Subsystem}
	if hmap.Board {
		board, err := helicity.NewBoard(hmap.Config, int(hmap.BoardBank))
		if err != nil {
			return nil, err
		}
		s.decoder = board
	} else {
		decoder, err := helicity.New(hmap.Config)
		if err != nil {
			return nil, err
		}
		for _, w := range hmap.Words {
			decoder.MapWord(int(w.Bank), w.Name, w.Offset)
		}
		s.decoder = decoder
	}
	for _, binding := range hmap.Bindings {
		if err := registry.Register(s.name, binding.ROC, binding.Bank, binding.Markers...); err != nil {
			return nil, err
		}
	}
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Helicity decoding mode %v, board %v", hmap.Config.Mode, hmap.Board), "subsystem")
	}
	return s, nil
}

func (s *HelicitySubsystem) Name() string { return s.name }

func (s *HelicitySubsystem) ClearEventData() { s.decoder.ClearEventData() }

// AbortEvent rolls the decoder back to the last processed event.
func (s *HelicitySubsystem) AbortEvent() { s.decoder.AbortEvent() }

// SetEventType passes the CODA event type on for the Moller mode.
func (s *HelicitySubsystem) SetEventType(eventType int) {
	if setter, ok := s.decoder.(interface{ SetEventType(int) }); ok {
		setter.SetEventType(eventType)
	}
}

func (s *HelicitySubsystem) ProcessEvBuffer(eventType int, roc uint32, bank BankID, data []uint32) error {
	return s.decoder.ProcessEvBuffer(eventType, int(bank), data)
}

func (s *HelicitySubsystem) ProcessEvent() error { return s.decoder.ProcessEvent() }

func (s *HelicitySubsystem) Snapshot() helicity.Snapshot { return s.decoder.Snapshot() }

func (s *HelicitySubsystem) Counters() helicity.Counters { return s.decoder.Counters() }

func (s *HelicitySubsystem) ErrorFlag() uint32 { return s.decoder.ErrorFlag() }
