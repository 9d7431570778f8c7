package channels

import (
	"math"

	"github.com/parity-daq/decoder_go/pkg/errflag"
)

const (
	ADC18WordsPerChannel   = 5
	ADC18ChannelsPerModule = 4
	ADC18VoltsPerBit       = 20.0 / (1 << 18)

	adc18HeaderMask     = 0x80000000
	adc18ChannelMask    = 0x60000000
	adc18DividerMask    = 0x06000000
	adc18TypeMask       = 0x01c00000
	adc18DiffSignMask   = 0x00200000
	adc18DiffMask       = 0x001fffff
	adc18SampleNumMask  = 0x003c0000
	adc18ValueMask      = 0x0003ffff
	adc18NumSamplesMask = 0x0000ffff
)

// ADC18 data word types.
const (
	adc18TypeDiff    = 0
	adc18TypeBase    = 1
	adc18TypePeak    = 2
	adc18TypeSamples = 4
)

// ADC18Channel decodes one channel of an 18-bit ADC: a header word with
// the channel number and divider, then typed data words.
type ADC18Channel struct {
	HardwareChannel

	channelNumber   int
	divider         int
	diffRaw         int
	baseRaw         int
	peakRaw         int
	baseSample      int
	peakSample      int
	numberOfSamples int
	rawValue        float64
	saturationLimit float64
}

func NewADC18Channel(name string) *ADC18Channel {
	return &ADC18Channel{
		HardwareChannel: newHardwareChannel(name),
		saturationLimit: DefaultSaturationLimit,
	}
}

func (c *ADC18Channel) Kind() Kind { return ADC18 }

func (c *ADC18Channel) Clone() Channel {
	clone := *c
	return &clone
}

func (c *ADC18Channel) SetSaturationLimit(volts float64) { c.saturationLimit = volts }

func (c *ADC18Channel) ChannelNumber() int { return c.channelNumber }

func (c *ADC18Channel) Divider() int { return c.divider }

func (c *ADC18Channel) Base() int { return c.baseRaw }

func (c *ADC18Channel) Peak() int { return c.peakRaw }

func (c *ADC18Channel) NumberOfSamples() int { return c.numberOfSamples }

func (c *ADC18Channel) RawValue() float64 { return c.rawValue }

// AverageVolts is the raw difference converted to volts.
func (c *ADC18Channel) AverageVolts() float64 { return c.rawValue * ADC18VoltsPerBit }

func (c *ADC18Channel) ClearEventData() {
	c.clearEvent()
	c.channelNumber = 0
	c.divider = 0
	c.diffRaw = 0
	c.baseRaw = 0
	c.peakRaw = 0
	c.baseSample = 0
	c.peakSample = 0
	c.numberOfSamples = 0
	c.rawValue = 0
}

func isADC18Header(word uint32) bool { return word&adc18HeaderMask != 0 }

// ProcessEvBuffer reads the header and up to four data words, stopping at
// the next header. It returns the words consumed.
func (c *ADC18Channel) ProcessEvBuffer(buffer []uint32, offset int) (int, error) {
	if offset < 0 || offset >= len(buffer) {
		return 0, &ErrShortBuffer{Channel: c.name, Offset: offset, Need: 1, Have: len(buffer)}
	}
	header := buffer[offset]
	if !isADC18Header(header) {
		return 0, &ErrBadWord{Channel: c.name, Word: header, Reason: "expected channel header"}
	}
	c.channelNumber = int((header & adc18ChannelMask) >> 29)
	c.divider = int((header & adc18DividerMask) >> 25)

	position := offset + 1
	for position < len(buffer) && position < offset+ADC18WordsPerChannel && !isADC18Header(buffer[position]) {
		word := buffer[position]
		switch (word & adc18TypeMask) >> 22 {
		case adc18TypeDiff:
			diff := int(word & adc18DiffMask)
			if word&adc18DiffSignMask != 0 {
				diff -= adc18DiffSignMask
			}
			c.diffRaw = diff
		case adc18TypeBase:
			c.baseRaw = int(word & adc18ValueMask)
			c.baseSample = int((word & adc18SampleNumMask) >> 18)
		case adc18TypePeak:
			c.peakRaw = int(word & adc18ValueMask)
			c.peakSample = int((word & adc18SampleNumMask) >> 18)
		case adc18TypeSamples:
			c.numberOfSamples = int(word & adc18NumSamplesMask)
		default:
			return position - offset, &ErrBadWord{Channel: c.name, Word: word, Reason: "unknown data type"}
		}
		position++
	}
	return position - offset, nil
}

func (c *ADC18Channel) ProcessEvent() {
	c.rawValue = float64(c.diffRaw)
	c.calibrate(c.rawValue)
}

// ApplyHWChecks only checks saturation; the ADC18 has no sequence counter.
func (c *ADC18Channel) ApplyHWChecks() bool {
	if math.Abs(c.AverageVolts()) > c.saturationLimit {
		c.flagHardware(errflag.Saturation)
	}
	return c.errorFlag&errflag.HardwareFlags == 0
}

func (c *ADC18Channel) CheckForBurpFail(previous Channel) (bool, error) {
	prev, err := downcast[*ADC18Channel]("CheckForBurpFail", ADC18, previous)
	if err != nil {
		return false, err
	}
	return c.checkBurp(prev.value), nil
}

func (c *ADC18Channel) Assign(value *ADC18Channel) {
	c.assignValue(&value.HardwareChannel)
	c.rawValue = value.rawValue
	c.numberOfSamples = value.numberOfSamples
}

func (c *ADC18Channel) Add(value *ADC18Channel) { c.addValue(&value.HardwareChannel) }

func (c *ADC18Channel) Subtract(value *ADC18Channel) { c.subtractValue(&value.HardwareChannel) }

func (c *ADC18Channel) Ratio(numer, denom *ADC18Channel) {
	c.ratioValue(&numer.HardwareChannel, &denom.HardwareChannel)
}

func (c *ADC18Channel) Product(a, b *ADC18Channel) {
	c.productValue(&a.HardwareChannel, &b.HardwareChannel)
}

func (c *ADC18Channel) Sum(a, b *ADC18Channel) {
	c.Assign(a)
	c.Add(b)
}

func (c *ADC18Channel) Difference(a, b *ADC18Channel) {
	c.Assign(a)
	c.Subtract(b)
}

func (c *ADC18Channel) AccumulateRunningSum(value *ADC18Channel, count int, mask uint32) {
	c.accumulate(&value.HardwareChannel, count, mask)
}

func (c *ADC18Channel) DeaccumulateRunningSum(value *ADC18Channel, mask uint32) {
	c.deaccumulate(&value.HardwareChannel, mask)
}

func (c *ADC18Channel) Scale(factor float64) { c.scaleValue(factor) }

func (c *ADC18Channel) AssignChannel(value Channel) error {
	v, err := downcast[*ADC18Channel]("AssignChannel", ADC18, value)
	if err != nil {
		return err
	}
	c.Assign(v)
	return nil
}

func (c *ADC18Channel) AddChannel(value Channel) error {
	v, err := downcast[*ADC18Channel]("AddChannel", ADC18, value)
	if err != nil {
		return err
	}
	c.Add(v)
	return nil
}

func (c *ADC18Channel) SubtractChannel(value Channel) error {
	v, err := downcast[*ADC18Channel]("SubtractChannel", ADC18, value)
	if err != nil {
		return err
	}
	c.Subtract(v)
	return nil
}

func (c *ADC18Channel) RatioChannels(numer, denom Channel) error {
	n, err := downcast[*ADC18Channel]("RatioChannels", ADC18, numer)
	if err != nil {
		return err
	}
	d, err := downcast[*ADC18Channel]("RatioChannels", ADC18, denom)
	if err != nil {
		return err
	}
	c.Ratio(n, d)
	return nil
}

func (c *ADC18Channel) AccumulateChannel(value Channel, count int, mask uint32) error {
	v, err := downcast[*ADC18Channel]("AccumulateChannel", ADC18, value)
	if err != nil {
		return err
	}
	c.AccumulateRunningSum(v, count, mask)
	return nil
}

func (c *ADC18Channel) DeaccumulateChannel(value Channel, mask uint32) error {
	v, err := downcast[*ADC18Channel]("DeaccumulateChannel", ADC18, value)
	if err != nil {
		return err
	}
	c.DeaccumulateRunningSum(v, mask)
	return nil
}
