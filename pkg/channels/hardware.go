package channels

import (
	"math"
	"strings"

	"github.com/parity-daq/decoder_go/pkg/errflag"
)

type DataToSave int

const (
	SaveRaw DataToSave = iota
	SaveDerived
)

const DefaultBurpHoldoff = 10

// ErrorCounters tallies the failure kinds seen over a run.
type ErrorCounters struct {
	Saturation  int `json:"saturation"`
	Sample      int `json:"sample"`
	SoftwareSum int `json:"sw_hw"`
	Sequence    int `json:"sequence"`
	SameHW      int `json:"same_hw"`
	ZeroHW      int `json:"zero_hw"`
	EventCut    int `json:"event_cut"`
	Stability   int `json:"stability"`
	Burp        int `json:"burp"`
}

func (c ErrorCounters) Total() int {
	return c.Saturation + c.Sample + c.SoftwareSum + c.Sequence + c.SameHW + c.ZeroHW +
		c.EventCut + c.Stability + c.Burp
}

// HardwareChannel holds the state common to every channel kind: the
// calibrated value with its Welford moments, calibration constants, cut
// configuration and the per-event error flag.
type HardwareChannel struct {
	name       string
	subsystem  string
	dataToSave DataToSave

	value          float64
	valueM2        float64
	valueError     float64
	goodEventCount int

	pedestal    float64
	calibration float64

	lowerLimit      float64
	upperLimit      float64
	stability       float64
	burpThreshold   float64
	burpHoldoff     int
	burpCountdown   int
	eventCutMode    int
	deviceErrorCode uint32
	errorConfigFlag uint32
	errorFlag       uint32

	reference Reference
	counters  ErrorCounters
}

func newHardwareChannel(name string) HardwareChannel {
	h := HardwareChannel{
		name:          name,
		calibration:   1.0,
		lowerLimit:    1,
		upperLimit:    -1,
		burpThreshold: -1,
		burpHoldoff:   DefaultBurpHoldoff,
		eventCutMode:  2,
	}
	h.SetDataToSaveByPrefix(name)
	return h
}

func (h *HardwareChannel) Hardware() *HardwareChannel { return h }

func (h *HardwareChannel) Name() string { return h.name }

func (h *HardwareChannel) SubsystemName() string { return h.subsystem }

func (h *HardwareChannel) SetSubsystemName(name string) { h.subsystem = name }

func (h *HardwareChannel) DataToSave() DataToSave { return h.dataToSave }

// SetDataToSaveByPrefix marks asymmetry, difference and yield channels
// as derived quantities.
func (h *HardwareChannel) SetDataToSaveByPrefix(prefix string) {
	h.dataToSave = SaveRaw
	for _, derived := range []string{"asym_", "diff_", "yield_"} {
		if strings.Contains(prefix, derived) {
			h.dataToSave = SaveDerived
			return
		}
	}
}

func (h *HardwareChannel) Pedestal() float64 { return h.pedestal }

func (h *HardwareChannel) SetPedestal(pedestal float64) { h.pedestal = pedestal }

func (h *HardwareChannel) CalibrationFactor() float64 { return h.calibration }

func (h *HardwareChannel) SetCalibrationFactor(factor float64) { h.calibration = factor }

// SetSingleEventCuts configures the device error bit, the [min, max]
// window, the stability fraction and the burp threshold. A max below min
// disables the window.
func (h *HardwareChannel) SetSingleEventCuts(errorFlag uint32, min, max, stability, burpLevel float64) {
	h.errorConfigFlag = errorFlag
	h.lowerLimit = min
	h.upperLimit = max
	h.stability = stability
	h.burpThreshold = burpLevel
}

func (h *HardwareChannel) Limits() (lower, upper float64) { return h.lowerLimit, h.upperLimit }

func (h *HardwareChannel) SetEventCutMode(mode int) { h.eventCutMode = mode }

func (h *HardwareChannel) SetDeviceErrorCode(code uint32) { h.deviceErrorCode = code }

func (h *HardwareChannel) SetBurpHoldoff(holdoff int) { h.burpHoldoff = holdoff }

// SetStabilityReference points the stability cut at a running sum owned
// elsewhere. The reference is only read.
func (h *HardwareChannel) SetStabilityReference(ref Reference) { h.reference = ref }

func (h *HardwareChannel) Value() float64 { return h.value }

func (h *HardwareChannel) ValueM2() float64 { return h.valueM2 }

func (h *HardwareChannel) ValueError() float64 { return h.valueError }

// ValueWidth is the spread of the accumulated entries.
func (h *HardwareChannel) ValueWidth() float64 {
	return h.valueError * math.Sqrt(float64(h.goodEventCount))
}

func (h *HardwareChannel) GoodEventCount() int { return h.goodEventCount }

func (h *HardwareChannel) ErrorFlag() uint32 { return h.errorFlag }

func (h *HardwareChannel) UpdateErrorFlag(flag uint32) { h.errorFlag |= flag }

func (h *HardwareChannel) Counters() ErrorCounters { return h.counters }

// RunningMean lets a running-sum channel act as a stability reference.
func (h *HardwareChannel) RunningMean() (float64, int) {
	return h.value, h.goodEventCount
}

func (h *HardwareChannel) clearEvent() {
	h.value = 0
	h.valueM2 = 0
	h.valueError = 0
	h.goodEventCount = 0
	h.errorFlag = 0
}

func (h *HardwareChannel) calibrate(raw float64) {
	h.value = h.calibration * (raw - h.pedestal)
	h.valueM2 = 0
	h.goodEventCount = 1
}

func (h *HardwareChannel) flagHardware(flag uint32) {
	h.errorFlag |= flag
	switch flag {
	case errflag.Saturation:
		h.counters.Saturation++
	case errflag.Sample:
		h.counters.Sample++
	case errflag.SoftwareSum:
		h.counters.SoftwareSum++
	case errflag.Sequence:
		h.counters.Sequence++
	case errflag.SameHW:
		h.counters.SameHW++
	case errflag.ZeroHW:
		h.counters.ZeroHW++
	}
}

// ApplySingleEventCuts tests the value against the configured window.
// With a stability fraction and a populated reference the tolerance is
// relative to the reference mean instead. Event-cut mode 3 records the
// failure but keeps the event.
func (h *HardwareChannel) ApplySingleEventCuts() bool {
	if h.eventCutMode < 2 {
		return true
	}
	status := true
	failBits := uint32(0)

	mean, count := 0.0, 0
	if h.reference != nil {
		mean, count = h.reference.RunningMean()
	}
	switch {
	case h.stability > 0 && count > 0:
		if math.Abs(h.value-mean) > h.stability*math.Abs(mean) {
			failBits = errflag.StabilityCut
			if h.value > mean {
				failBits |= errflag.EventCutUpper
			} else {
				failBits |= errflag.EventCutLower
			}
			h.counters.Stability++
		}
	case h.upperLimit < h.lowerLimit:
	case h.value > h.upperLimit:
		failBits = errflag.EventCutUpper
		h.counters.EventCut++
	case h.value < h.lowerLimit:
		failBits = errflag.EventCutLower
		h.counters.EventCut++
	}

	if failBits != 0 {
		h.errorFlag |= failBits | h.deviceErrorCode | h.errorConfigFlag
		status = false
	} else if h.errorFlag&errflag.HardwareFlags != 0 {
		h.errorFlag |= h.deviceErrorCode | h.errorConfigFlag
		status = false
	}
	if h.eventCutMode == 3 {
		h.errorFlag |= errflag.EventCutMode3
		return true
	}
	if !status {
		h.goodEventCount = 0
	}
	return status
}

// checkBurp compares against the previous event's value. A step larger
// than the threshold arms the hold-off; the burp bit stays up while the
// hold-off counts down.
func (h *HardwareChannel) checkBurp(previous float64) bool {
	if h.burpThreshold <= 0 {
		return false
	}
	fail := false
	if math.Abs(h.value-previous) > h.burpThreshold {
		fail = true
		h.burpCountdown = h.burpHoldoff
	} else if h.burpCountdown > 0 {
		fail = true
		h.burpCountdown--
	}
	if fail {
		h.errorFlag |= errflag.BurpCut
		h.counters.Burp++
	}
	return fail
}

func (h *HardwareChannel) assignValue(value *HardwareChannel) {
	h.value = value.value
	h.valueM2 = value.valueM2
	h.valueError = value.valueError
	h.goodEventCount = value.goodEventCount
	h.errorFlag = value.errorFlag
}

func (h *HardwareChannel) addValue(value *HardwareChannel) {
	h.value += value.value
	h.errorFlag |= value.errorFlag
}

func (h *HardwareChannel) subtractValue(value *HardwareChannel) {
	h.value -= value.value
	h.errorFlag |= value.errorFlag
}

func (h *HardwareChannel) ratioValue(numer, denom *HardwareChannel) {
	if denom.value != 0 {
		h.value = numer.value / denom.value
	} else {
		h.value = 0
	}
	h.valueM2 = 0
	h.goodEventCount = denom.goodEventCount
	h.errorFlag |= numer.errorFlag | denom.errorFlag
}

func (h *HardwareChannel) productValue(a, b *HardwareChannel) {
	h.value = a.value * b.value
	h.valueM2 = 0
	h.errorFlag |= a.errorFlag | b.errorFlag
}

func (h *HardwareChannel) scaleValue(factor float64) {
	h.value *= factor
	h.valueM2 *= factor * factor
	h.valueError *= math.Abs(factor)
}

// AddChannelOffset shifts the value by a constant.
func (h *HardwareChannel) AddChannelOffset(offset float64) {
	h.value += offset
}

// DivideByValue divides by a plain number, leaving the value unchanged
// when the divisor is zero.
func (h *HardwareChannel) DivideByValue(divisor float64) {
	if divisor != 0 {
		h.value /= divisor
		h.valueM2 /= divisor * divisor
	}
}

// CalculateRunningAverage turns M2 into the error on the mean.
func (h *HardwareChannel) CalculateRunningAverage() {
	if h.goodEventCount <= 0 {
		h.valueError = 0
		return
	}
	h.valueError = math.Sqrt(h.valueM2) / float64(h.goodEventCount)
}
