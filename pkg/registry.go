package decoder

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// BankID is a sub-bank tag, with the marker word in the high 32 bits for
// banks that hold several marked regions.
type BankID uint64

func EffectiveBank(marker, bank uint32) BankID {
	return BankID(uint64(marker)<<32 | uint64(bank))
}

func (b BankID) Bank() uint32   { return uint32(b) }
func (b BankID) Marker() uint32 { return uint32(b >> 32) }

func (b BankID) String() string {
	if b.Marker() != 0 {
		return fmt.Sprintf("0x%x/marker 0x%x", b.Bank(), b.Marker())
	}
	return fmt.Sprintf("0x%x", b.Bank())
}

// ChannelRef places a channel of a subsystem inside a bank.
type ChannelRef struct {
	Owner  string
	Index  int
	Offset int
}

// Binding is the claim of one subsystem on a (ROC, bank) pair.
type Binding struct {
	Owner   string
	ROC     uint32
	Bank    uint32
	Markers []uint32
}

type bankKey struct {
	roc  uint32
	bank uint32
}

type markerKey struct {
	roc    uint32
	bank   uint32
	marker uint32
}

// Registry maps (ROC, bank) pairs to the subsystem that decodes them and
// to the channels inside each bank.
type Registry struct {
	bindings map[bankKey]*Binding
	channels map[bankKey]map[BankID][]ChannelRef

	mu      sync.Mutex
	offsets map[markerKey]int
}

func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[bankKey]*Binding),
		channels: make(map[bankKey]map[BankID][]ChannelRef),
		offsets:  make(map[markerKey]int),
	}
}

// Register claims a bank for owner. Registering again from the same owner
// adds markers; a different owner is refused.
func (r *Registry) Register(owner string, roc, bank uint32, markers ...uint32) error {
	key := bankKey{roc, bank}
	binding, ok := r.bindings[key]
	if ok && binding.Owner != owner {
		return &ErrDuplicateRegistration{ROC: roc, Bank: bank, Owner: owner, Existing: binding.Owner}
	}
	if !ok {
		binding = &Binding{Owner: owner, ROC: roc, Bank: bank}
		r.bindings[key] = binding
	}
	for _, marker := range markers {
		if marker != 0 && !slices.Contains(binding.Markers, marker) {
			binding.Markers = append(binding.Markers, marker)
		}
	}
	return nil
}

// RegisterChannel records where a channel sits. The bank must already be
// claimed by the same owner.
func (r *Registry) RegisterChannel(roc uint32, bank BankID, ref ChannelRef) error {
	key := bankKey{roc, bank.Bank()}
	binding, ok := r.bindings[key]
	if !ok {
		return fmt.Errorf("channel %d of %s: ROC %d bank %s is not registered", ref.Index, ref.Owner, roc, bank)
	}
	if binding.Owner != ref.Owner {
		return &ErrDuplicateRegistration{ROC: roc, Bank: bank.Bank(), Owner: ref.Owner, Existing: binding.Owner}
	}
	if r.channels[key] == nil {
		r.channels[key] = make(map[BankID][]ChannelRef)
	}
	r.channels[key][bank] = append(r.channels[key][bank], ref)
	return nil
}

func (r *Registry) Lookup(roc, bank uint32) (Binding, bool) {
	binding, ok := r.bindings[bankKey{roc, bank}]
	if !ok {
		return Binding{}, false
	}
	return *binding, true
}

func (r *Registry) Channels(roc uint32, bank BankID) []ChannelRef {
	return r.channels[bankKey{roc, bank.Bank()}][bank]
}

// Bindings lists every claimed bank in ROC then bank order.
func (r *Registry) Bindings() []Binding {
	bindings := make([]Binding, 0, len(r.bindings))
	for _, binding := range r.bindings {
		bindings = append(bindings, *binding)
	}
	slices.SortFunc(bindings, func(a, b Binding) int {
		if a.ROC != b.ROC {
			return int(a.ROC) - int(b.ROC)
		}
		return int(a.Bank) - int(b.Bank)
	})
	return bindings
}

// ResolveMarkerOffset finds the word holding marker in buffer. The offset
// seen last time is tried first.
func (r *Registry) ResolveMarkerOffset(roc, bank, marker uint32, buffer []uint32) (int, bool) {
	key := markerKey{roc, bank, marker}
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset, ok := r.offsets[key]; ok && offset < len(buffer) && buffer[offset] == marker {
		return offset, true
	}
	offset := slices.Index(buffer, marker)
	if offset < 0 {
		return 0, false
	}
	r.offsets[key] = offset
	return offset, true
}

// Deliver receives the data of one bank for one subsystem.
type Deliver func(owner string, roc uint32, bank BankID, data []uint32) error

// Dispatch hands a fragment to its owner. Marked banks are delivered once
// per marker found, starting after the marker word. Fragments nobody
// claimed are ignored.
func (r *Registry) Dispatch(fragment Fragment, deliver Deliver) error {
	binding, ok := r.bindings[bankKey{fragment.ROC, fragment.Bank}]
	if !ok {
		if configuration.Verbosity > 2 {
			message := fmt.Sprintf("no subsystem for ROC %d bank 0x%x", fragment.ROC, fragment.Bank)
			logger.Info(message, "registry")
		}
		return nil
	}
	if len(binding.Markers) == 0 {
		return deliver(binding.Owner, fragment.ROC, BankID(fragment.Bank), fragment.Words)
	}
	for _, marker := range binding.Markers {
		offset, found := r.ResolveMarkerOffset(fragment.ROC, fragment.Bank, marker, fragment.Words)
		if !found {
			if configuration.Verbosity > 1 {
				message := fmt.Sprintf("marker 0x%x not found in ROC %d bank 0x%x", marker, fragment.ROC, fragment.Bank)
				logger.Warning(message, "registry")
			}
			continue
		}
		bank := EffectiveBank(marker, fragment.Bank)
		if err := deliver(binding.Owner, fragment.ROC, bank, fragment.Words[offset+1:]); err != nil {
			return err
		}
	}
	return nil
}
