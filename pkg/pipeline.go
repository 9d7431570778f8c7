package decoder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/parity-daq/decoder_go/pkg/channels"
	"github.com/parity-daq/decoder_go/pkg/helicity"
)

// Pipeline runs the per-event steps over every subsystem: clear, decode,
// checks, burp, running sums, and helicity last.
type Pipeline struct {
	registry       *Registry
	subsystems     map[string]Subsystem
	order          []Subsystem
	channelSystems []*ChannelSubsystem
	helicity       *HelicitySubsystem
	allowLow       bool

	events      int
	eventNumber uint64
	run         int
	segment     int
}

func NewPipeline(registry *Registry, allowLowSubbankIDs bool) *Pipeline {
	return &Pipeline{
		registry:   registry,
		subsystems: make(map[string]Subsystem),
		allowLow:   allowLowSubbankIDs,
	}
}

// Add takes a subsystem whose banks are already registered under its name.
func (p *Pipeline) Add(subsystem Subsystem) error {
	name := subsystem.Name()
	if _, dup := p.subsystems[name]; dup {
		return fmt.Errorf("subsystem %q added twice", name)
	}
	switch s := subsystem.(type) {
	case *ChannelSubsystem:
		p.channelSystems = append(p.channelSystems, s)
	case *HelicitySubsystem:
		if p.helicity != nil {
			return fmt.Errorf("second helicity subsystem %q", name)
		}
		p.helicity = s
	}
	p.subsystems[name] = subsystem
	p.order = append(p.order, subsystem)
	return nil
}

// BuildPipeline loads the maps named by the configuration. Several
// channel maps may be given separated by commas. Pedestals and cuts apply
// to all of them.
func BuildPipeline(cfg Configuration) (*Pipeline, error) {
	registry := NewRegistry()
	p := NewPipeline(registry, cfg.AllowLowSubbankIDs)

	for _, filename := range splitList(cfg.ChannelMap) {
		cmap, err := LoadChannelMap(filename)
		if err != nil {
			return nil, err
		}
		subsystem, err := NewChannelSubsystem(cmap, registry, cfg.StabilityWindow)
		if err != nil {
			return nil, err
		}
		if err := p.Add(subsystem); err != nil {
			return nil, err
		}
	}
	if cfg.PedestalFile != "" {
		pedestals, err := LoadPedestals(cfg.PedestalFile)
		if err != nil {
			return nil, err
		}
		p.ApplyPedestals(pedestals)
	}
	if cfg.CutsFile != "" {
		cuts, err := LoadCuts(cfg.CutsFile)
		if err != nil {
			return nil, err
		}
		for _, subsystem := range p.channelSystems {
			subsystem.ApplyCuts(cuts)
		}
	}
	if cfg.HelicityMap != "" {
		hmap, err := LoadHelicityMap(cfg.HelicityMap)
		if err != nil {
			return nil, err
		}
		subsystem, err := NewHelicitySubsystem(hmap, registry)
		if err != nil {
			return nil, err
		}
		if err := p.Add(subsystem); err != nil {
			return nil, err
		}
	}
	if configuration.Verbosity > 0 {
		for _, binding := range registry.Bindings() {
			message := fmt.Sprintf("ROC %d bank 0x%x markers %x -> %s", binding.ROC, binding.Bank, binding.Markers, binding.Owner)
			logger.Info(message, "pipeline")
		}
	}
	return p, nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func (p *Pipeline) Registry() *Registry { return p.registry }

func (p *Pipeline) Subsystem(name string) (Subsystem, bool) {
	subsystem, ok := p.subsystems[name]
	return subsystem, ok
}

func (p *Pipeline) Helicity() *HelicitySubsystem { return p.helicity }

// Events is the number of physics events processed without error.
func (p *Pipeline) Events() int { return p.events }

// ApplyPedestals sets pedestals and calibration factors by channel name
// across all channel subsystems.
func (p *Pipeline) ApplyPedestals(entries []PedestalEntry) {
	for _, subsystem := range p.channelSystems {
		subsystem.ApplyPedestals(entries)
	}
}

func (p *Pipeline) deliver(eventType int) Deliver {
	return func(owner string, roc uint32, bank BankID, data []uint32) error {
		subsystem, ok := p.subsystems[owner]
		if !ok {
			return nil
		}
		return subsystem.ProcessEvBuffer(eventType, roc, bank, data)
	}
}

// ProcessEvent runs one physics event through every subsystem. Other
// kinds of event are ignored. A structural problem aborts the event with
// *ErrDecode; *ErrFatal ends the run.
func (p *Pipeline) ProcessEvent(event *Event) error {
	if !event.IsPhysics() {
		return nil
	}
	eventType := int(event.Type)
	p.eventNumber = event.Number
	p.run = event.RunNumber
	p.segment = event.Segment

	for _, subsystem := range p.order {
		subsystem.ClearEventData()
	}
	if p.helicity != nil {
		p.helicity.SetEventType(eventType)
	}

	if err := p.process(eventType, event); err != nil {
		if p.helicity != nil {
			p.helicity.AbortEvent()
		}
		return classify(event, err)
	}
	p.events++
	return nil
}

// process walks the event into the subsystems and runs them in order.
func (p *Pipeline) process(eventType int, event *Event) error {
	deliver := p.deliver(eventType)
	err := event.WalkSubbanks(p.allowLow, func(fragment Fragment) error {
		return p.registry.Dispatch(fragment, deliver)
	})
	if err != nil {
		return err
	}

	for _, subsystem := range p.channelSystems {
		if err := subsystem.ProcessEvent(); err != nil {
			return err
		}
	}
	for _, subsystem := range p.channelSystems {
		subsystem.ApplyChecks()
		if err := subsystem.CheckBurp(); err != nil {
			return err
		}
		if err := subsystem.Accumulate(); err != nil {
			return err
		}
	}
	if p.helicity != nil {
		if err := p.helicity.ProcessEvent(); err != nil {
			return err
		}
	}
	return nil
}

// classify sorts an error into the per-event and per-run kinds.
func classify(event *Event, err error) error {
	var decodeErr *ErrDecode
	if errors.As(err, &decodeErr) {
		if decodeErr.Event == 0 {
			decodeErr.Event = event.Number
		}
		return decodeErr
	}
	var (
		shortBuffer *channels.ErrShortBuffer
		badWord     *channels.ErrBadWord
		shortBank   *helicity.ErrShortBank
	)
	if errors.As(err, &shortBuffer) || errors.As(err, &badWord) || errors.As(err, &shortBank) {
		return &ErrDecode{Event: event.Number, Reason: err.Error()}
	}
	var fatal *ErrFatal
	if errors.As(err, &fatal) {
		return fatal
	}
	return &ErrFatal{Reason: fmt.Sprintf("event %d", event.Number), Err: err}
}

// ChannelValue is the value of one channel in one event.
type ChannelValue struct {
	Subsystem string  `json:"subsystem"`
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	ErrorFlag uint32  `json:"error_flag"`
}

// EventSnapshot is a copy of the results of one event, safe to hand to
// other goroutines.
type EventSnapshot struct {
	Run         int                `json:"run"`
	Segment     int                `json:"segment"`
	EventNumber uint64             `json:"event_number"`
	ErrorFlag   uint32             `json:"error_flag"`
	Helicity    *helicity.Snapshot `json:"helicity,omitempty"`
	Channels    []ChannelValue     `json:"channels"`
}

func (p *Pipeline) Snapshot() EventSnapshot {
	snapshot := EventSnapshot{Run: p.run, Segment: p.segment, EventNumber: p.eventNumber}
	for _, subsystem := range p.channelSystems {
		for _, ch := range subsystem.Channels() {
			snapshot.Channels = append(snapshot.Channels, ChannelValue{
				Subsystem: subsystem.Name(),
				Name:      ch.Name(),
				Value:     ch.Value(),
				ErrorFlag: ch.ErrorFlag(),
			})
			snapshot.ErrorFlag |= ch.ErrorFlag()
		}
	}
	if p.helicity != nil {
		hel := p.helicity.Snapshot()
		snapshot.Helicity = &hel
		snapshot.ErrorFlag |= hel.ErrorFlag
	}
	return snapshot
}
