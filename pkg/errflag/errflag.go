package errflag

// Error-flag bits carried by channels and subsystems. A flag word is only
// ever widened with |= during an event and is reset by ClearEventData.
const (
	Saturation    uint32 = 0x1
	Sample        uint32 = 0x2
	SoftwareSum   uint32 = 0x4
	Sequence      uint32 = 0x8
	SameHW        uint32 = 0x10
	ZeroHW        uint32 = 0x20
	EventCutLower uint32 = 0x40
	EventCutUpper uint32 = 0x80
	BCM           uint32 = 0x100
	BlinderFail   uint32 = 0x200
	BPM           uint32 = 0x400
	PMT           uint32 = 0x800
	Helicity      uint32 = 0x4000
	EventCutMode3 uint32 = 0x10000
	BurpCut       uint32 = 0x20000
	StabilityCut  uint32 = 0x1000000
	LocalCut      uint32 = 0x2000000
	GlobalCut     uint32 = 0x4000000
	BeamTrip      uint32 = 0x8000000
	BeamStability uint32 = 0x10000000

	// PreserveError keeps the hardware and single-event cut bits.
	PreserveError uint32 = 0x2FF

	// DefaultMask excludes any flagged entry from running sums.
	DefaultMask uint32 = 0xFFFFFFF
)

// HardwareFlags is the set of bits raised by hardware checks.
const HardwareFlags = Saturation | Sample | SoftwareSum | Sequence | SameHW | ZeroHW

// Global builds the cut-class bits for a device: "g" marks a global cut,
// "l" a local one. Event-cut mode 3 and a stability fraction add their
// own bits.
func Global(evType string, evMode int, stability float64) uint32 {
	var flag uint32
	switch evType {
	case "g":
		flag = GlobalCut
	case "l":
		flag = LocalCut
	}
	if evMode == 3 {
		flag |= EventCutMode3
	}
	if stability > 0 {
		flag |= StabilityCut
	}
	return flag
}

// Describe lists the names of the set bits, for summaries.
func Describe(flag uint32) []string {
	names := make([]string, 0)
	for _, entry := range flagNames {
		if flag&entry.bit != 0 {
			names = append(names, entry.name)
		}
	}
	return names
}

var flagNames = []struct {
	bit  uint32
	name string
}{
	{Saturation, "saturation"},
	{Sample, "sample"},
	{SoftwareSum, "sw_hw"},
	{Sequence, "sequence"},
	{SameHW, "same_hw"},
	{ZeroHW, "zero_hw"},
	{EventCutLower, "event_cut_lower"},
	{EventCutUpper, "event_cut_upper"},
	{BCM, "bcm"},
	{BlinderFail, "blinder"},
	{BPM, "bpm"},
	{PMT, "pmt"},
	{Helicity, "helicity"},
	{EventCutMode3, "event_cut_mode3"},
	{BurpCut, "burp"},
	{StabilityCut, "stability"},
	{LocalCut, "local_cut"},
	{GlobalCut, "global_cut"},
	{BeamTrip, "beam_trip"},
	{BeamStability, "beam_stability"},
}
