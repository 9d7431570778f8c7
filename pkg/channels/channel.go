package channels

import "fmt"

type Kind int

const (
	Integrating Kind = iota
	ADC18
	Scaler
)

func (k Kind) String() string {
	switch k {
	case Integrating:
		return "Integrating"
	case ADC18:
		return "ADC18"
	case Scaler:
		return "Scaler"
	default:
		return "Unknown"
	}
}

// Channel is the type-erased surface shared by every readout channel.
// Each concrete type also exposes monomorphic methods (Add, Subtract,
// Ratio, AccumulateRunningSum...) taking its own type; the methods here
// downcast and delegate to those, returning *ErrTypeMismatch when the
// operands differ in kind.
type Channel interface {
	Name() string
	Kind() Kind
	Hardware() *HardwareChannel
	Clone() Channel

	ClearEventData()
	ProcessEvBuffer(buffer []uint32, offset int) (int, error)
	ProcessEvent()
	ApplyHWChecks() bool
	ApplySingleEventCuts() bool
	CheckForBurpFail(previous Channel) (bool, error)

	Value() float64
	ValueM2() float64
	ValueError() float64
	ValueWidth() float64
	GoodEventCount() int
	ErrorFlag() uint32
	UpdateErrorFlag(flag uint32)
	Counters() ErrorCounters

	AssignChannel(value Channel) error
	AddChannel(value Channel) error
	SubtractChannel(value Channel) error
	RatioChannels(numer, denom Channel) error
	AccumulateChannel(value Channel, count int, mask uint32) error
	DeaccumulateChannel(value Channel, mask uint32) error
	CalculateRunningAverage()
	Scale(factor float64)
}

// Reference supplies the running mean a stability cut is measured against.
type Reference interface {
	RunningMean() (mean float64, count int)
}

func downcast[T Channel](op string, want Kind, value Channel) (T, error) {
	concrete, ok := value.(T)
	if !ok {
		var zero T
		got := "nil"
		if value != nil {
			got = fmt.Sprintf("%v(%s)", value.Kind(), value.Name())
		}
		return zero, &ErrTypeMismatch{Op: op, Want: want.String(), Got: got}
	}
	return concrete, nil
}
