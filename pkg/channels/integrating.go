package channels

import (
	"math"

	"github.com/parity-daq/decoder_go/pkg/errflag"
	"gonum.org/v1/gonum/floats"
)

const (
	IntegratingWordsPerChannel   = 6
	IntegratingChannelsPerModule = 8
	IntegratingBlocks            = 4
	IntegratingVoltsPerBit       = 76.29e-6
	DefaultSaturationLimit       = 8.5
	DefaultSequenceMax           = 0xFF
	integratingSampleMask        = 0xFFFF0000
	integratingSequenceMask      = 0x0000FF00
	integratingSampleShift       = 16
	integratingSequenceShift     = 8
)

// IntegratingChannel decodes one channel of a VQWK integrating ADC: four
// block sums, the hardware sum over all blocks, and a word packing the
// sample count with a sequence number.
type IntegratingChannel struct {
	HardwareChannel

	blocksRaw      [IntegratingBlocks]float64
	hardwareSumRaw float64
	softwareSumRaw float64
	rawValue       float64
	blockValue     [IntegratingBlocks]float64

	numberOfSamples    int
	numberOfSamplesMap int
	sequenceNumber     int
	sequenceMax        int
	saturationLimit    float64

	previousSequence    int
	previousHardwareSum float64
	havePrevious        bool
}

func NewIntegratingChannel(name string) *IntegratingChannel {
	return &IntegratingChannel{
		HardwareChannel: newHardwareChannel(name),
		sequenceMax:     DefaultSequenceMax,
		saturationLimit: DefaultSaturationLimit,
	}
}

func (c *IntegratingChannel) Kind() Kind { return Integrating }

func (c *IntegratingChannel) Clone() Channel {
	clone := *c
	return &clone
}

// SetDefaultSampleSize sets the sample count every event is checked against.
// Zero disables the check.
func (c *IntegratingChannel) SetDefaultSampleSize(samples int) { c.numberOfSamplesMap = samples }

// SetSaturationLimit takes the limit in volts on the per-sample average.
func (c *IntegratingChannel) SetSaturationLimit(volts float64) { c.saturationLimit = volts }

func (c *IntegratingChannel) SetSequenceMax(max int) { c.sequenceMax = max }

func (c *IntegratingChannel) NumberOfSamples() int { return c.numberOfSamples }

func (c *IntegratingChannel) SequenceNumber() int { return c.sequenceNumber }

func (c *IntegratingChannel) HardwareSum() float64 { return c.hardwareSumRaw }

func (c *IntegratingChannel) RawValue() float64 { return c.rawValue }

func (c *IntegratingChannel) BlockValue(block int) float64 { return c.blockValue[block] }

func (c *IntegratingChannel) ClearEventData() {
	c.clearEvent()
	c.blocksRaw = [IntegratingBlocks]float64{}
	c.blockValue = [IntegratingBlocks]float64{}
	c.hardwareSumRaw = 0
	c.softwareSumRaw = 0
	c.rawValue = 0
	c.numberOfSamples = 0
	c.sequenceNumber = 0
}

func (c *IntegratingChannel) ProcessEvBuffer(buffer []uint32, offset int) (int, error) {
	if offset < 0 || offset+IntegratingWordsPerChannel > len(buffer) {
		return 0, &ErrShortBuffer{Channel: c.name, Offset: offset, Need: IntegratingWordsPerChannel, Have: len(buffer)}
	}
	position := offset
	for block := 0; block < IntegratingBlocks; block++ {
		c.blocksRaw[block] = float64(int32(buffer[position]))
		position++
	}
	c.hardwareSumRaw = float64(int32(buffer[position]))
	position++
	c.softwareSumRaw = floats.Sum(c.blocksRaw[:])

	word := buffer[position]
	c.numberOfSamples = int((word & integratingSampleMask) >> integratingSampleShift)
	c.sequenceNumber = int((word & integratingSequenceMask) >> integratingSequenceShift)
	position++

	return position - offset, nil
}

// ProcessEvent turns the hardware sum into a per-sample average and
// calibrates it. Blocks hold a quarter of the samples each.
func (c *IntegratingChannel) ProcessEvent() {
	c.rawValue = 0
	if c.numberOfSamples > 0 {
		c.rawValue = c.hardwareSumRaw / float64(c.numberOfSamples)
	}
	c.calibrate(c.rawValue)
	for block := range c.blocksRaw {
		c.blockValue[block] = 0
		if c.numberOfSamples > 0 {
			perBlock := float64(c.numberOfSamples) / IntegratingBlocks
			c.blockValue[block] = c.calibration * (c.blocksRaw[block]/perBlock - c.pedestal)
		}
	}
}

func (c *IntegratingChannel) sequenceOK() bool {
	if c.sequenceNumber > c.previousSequence {
		return true
	}
	return c.previousSequence == c.sequenceMax && c.sequenceNumber == 0
}

// ApplyHWChecks runs the sample-count, software sum, sequence,
// saturation, zero and stuck checks. It returns false if any fails.
func (c *IntegratingChannel) ApplyHWChecks() bool {
	if c.numberOfSamplesMap > 0 && c.numberOfSamples != c.numberOfSamplesMap {
		c.flagHardware(errflag.Sample)
	}
	if c.softwareSumRaw != c.hardwareSumRaw {
		c.flagHardware(errflag.SoftwareSum)
	}
	if c.havePrevious && !c.sequenceOK() {
		c.flagHardware(errflag.Sequence)
	}
	if math.Abs(c.rawValue*IntegratingVoltsPerBit) > c.saturationLimit {
		c.flagHardware(errflag.Saturation)
	}
	if c.hardwareSumRaw == 0 {
		c.flagHardware(errflag.ZeroHW)
	} else if c.havePrevious && c.hardwareSumRaw == c.previousHardwareSum {
		c.flagHardware(errflag.SameHW)
	}

	c.previousSequence = c.sequenceNumber
	c.previousHardwareSum = c.hardwareSumRaw
	c.havePrevious = true

	return c.errorFlag&errflag.HardwareFlags == 0
}

func (c *IntegratingChannel) CheckForBurpFail(previous Channel) (bool, error) {
	prev, err := downcast[*IntegratingChannel]("CheckForBurpFail", Integrating, previous)
	if err != nil {
		return false, err
	}
	return c.checkBurp(prev.value), nil
}

func (c *IntegratingChannel) Assign(value *IntegratingChannel) {
	c.assignValue(&value.HardwareChannel)
	c.blockValue = value.blockValue
	c.rawValue = value.rawValue
	c.numberOfSamples = value.numberOfSamples
	c.sequenceNumber = value.sequenceNumber
}

func (c *IntegratingChannel) Add(value *IntegratingChannel) {
	c.addValue(&value.HardwareChannel)
	for block := range c.blockValue {
		c.blockValue[block] += value.blockValue[block]
	}
	c.numberOfSamples += value.numberOfSamples
}

func (c *IntegratingChannel) Subtract(value *IntegratingChannel) {
	c.subtractValue(&value.HardwareChannel)
	for block := range c.blockValue {
		c.blockValue[block] -= value.blockValue[block]
	}
}

func (c *IntegratingChannel) Ratio(numer, denom *IntegratingChannel) {
	c.ratioValue(&numer.HardwareChannel, &denom.HardwareChannel)
	for block := range c.blockValue {
		c.blockValue[block] = 0
		if denom.blockValue[block] != 0 {
			c.blockValue[block] = numer.blockValue[block] / denom.blockValue[block]
		}
	}
	c.numberOfSamples = denom.numberOfSamples
}

func (c *IntegratingChannel) Product(a, b *IntegratingChannel) {
	c.productValue(&a.HardwareChannel, &b.HardwareChannel)
	for block := range c.blockValue {
		c.blockValue[block] = a.blockValue[block] * b.blockValue[block]
	}
}

func (c *IntegratingChannel) Sum(a, b *IntegratingChannel) {
	c.Assign(a)
	c.Add(b)
}

func (c *IntegratingChannel) Difference(a, b *IntegratingChannel) {
	c.Assign(a)
	c.Subtract(b)
}

func (c *IntegratingChannel) AccumulateRunningSum(value *IntegratingChannel, count int, mask uint32) {
	c.accumulate(&value.HardwareChannel, count, mask)
}

func (c *IntegratingChannel) DeaccumulateRunningSum(value *IntegratingChannel, mask uint32) {
	c.deaccumulate(&value.HardwareChannel, mask)
}

func (c *IntegratingChannel) Scale(factor float64) {
	c.scaleValue(factor)
	for block := range c.blockValue {
		c.blockValue[block] *= factor
	}
}

func (c *IntegratingChannel) AssignChannel(value Channel) error {
	v, err := downcast[*IntegratingChannel]("AssignChannel", Integrating, value)
	if err != nil {
		return err
	}
	c.Assign(v)
	return nil
}

func (c *IntegratingChannel) AddChannel(value Channel) error {
	v, err := downcast[*IntegratingChannel]("AddChannel", Integrating, value)
	if err != nil {
		return err
	}
	c.Add(v)
	return nil
}

func (c *IntegratingChannel) SubtractChannel(value Channel) error {
	v, err := downcast[*IntegratingChannel]("SubtractChannel", Integrating, value)
	if err != nil {
		return err
	}
	c.Subtract(v)
	return nil
}

func (c *IntegratingChannel) RatioChannels(numer, denom Channel) error {
	n, err := downcast[*IntegratingChannel]("RatioChannels", Integrating, numer)
	if err != nil {
		return err
	}
	d, err := downcast[*IntegratingChannel]("RatioChannels", Integrating, denom)
	if err != nil {
		return err
	}
	c.Ratio(n, d)
	return nil
}

func (c *IntegratingChannel) AccumulateChannel(value Channel, count int, mask uint32) error {
	v, err := downcast[*IntegratingChannel]("AccumulateChannel", Integrating, value)
	if err != nil {
		return err
	}
	c.AccumulateRunningSum(v, count, mask)
	return nil
}

func (c *IntegratingChannel) DeaccumulateChannel(value Channel, mask uint32) error {
	v, err := downcast[*IntegratingChannel]("DeaccumulateChannel", Integrating, value)
	if err != nil {
		return err
	}
	c.DeaccumulateRunningSum(v, mask)
	return nil
}
