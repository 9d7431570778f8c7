package decoder

type EventKind int

const (
	UnknownEvent EventKind = iota
	PhysicsEvent
	ConfigurationEvent
	ControlEvent
	EpicsEvent
)

func (k EventKind) String() string {
	switch k {
	case PhysicsEvent:
		return "Physics"
	case ConfigurationEvent:
		return "Configuration"
	case ControlEvent:
		return "Control"
	case EpicsEvent:
		return "EpicsSlowControl"
	default:
		return "Unknown"
	}
}

type ControlKind int

const (
	NoControl ControlKind = iota
	Sync
	Prestart
	Go
	Pause
	End
)

func (k ControlKind) String() string {
	switch k {
	case Sync:
		return "Sync"
	case Prestart:
		return "Prestart"
	case Go:
		return "Go"
	case Pause:
		return "Pause"
	case End:
		return "End"
	default:
		return "None"
	}
}

// CODA event types.
const (
	SYNC_EVENT      = 16
	PRESTART_EVENT  = 17
	GO_EVENT        = 18
	PAUSE_EVENT     = 19
	END_EVENT       = 20
	EPICS_EVENT     = 131
	ROC_CONFIG_LOW  = 0x90
	ROC_CONFIG_HIGH = 0x18f
	MAX_PHYS_EVENT  = 15
)

type ControlData struct {
	Time       uint32
	RunNumber  uint32
	RunType    uint32
	Status     uint32
	EventCount uint32
}

// Event is one decoded record. Words holds the whole record; the
// sub-bank walk starts at DataStart.
type Event struct {
	Kind        EventKind
	Control     ControlKind
	Version     int
	Type        uint32
	Tag         uint32
	BankType    uint32
	Number      uint64
	Class       uint32
	Status      uint32
	TriggerType uint16
	Timestamp   uint64
	Words       []uint32
	DataStart   int

	RunNumber       int
	Segment         int
	ControlData     ControlData
	CleanParameters [3]float64
	Epics           *EpicsRecord
}

func (e *Event) IsPhysics() bool { return e.Kind == PhysicsEvent }

// Length is the declared record length in words, header included.
func (e *Event) Length() int {
	if len(e.Words) == 0 {
		return 0
	}
	return int(e.Words[0]) + 1
}
