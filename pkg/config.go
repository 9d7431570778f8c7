package decoder

import "fmt"

type Configuration struct {
	Verbosity int `json:"verbosity"`

	DataDir       string `json:"data_dir"`
	FileStem      string `json:"file_stem"`
	FileExtension string `json:"file_extension"`
	RunRange      []int  `json:"run_range"`
	RunList       []int  `json:"run_list"`
	EventRange    []int  `json:"event_range"`
	SegmentRange  []int  `json:"segment_range"`
	ChainFiles    bool   `json:"chain_files"`
	MaxEvents     int    `json:"max_events"`
	Skip          int    `json:"skip"`
	CodaVersion   string `json:"coda_version"`

	Online        bool `json:"online"`
	OnlineTimeout int  `json:"online_timeout"`
	OnlineBuffer  int  `json:"online_buffer"`

	ChannelMap         string `json:"channel_map"`
	PedestalFile       string `json:"pedestal_file"`
	CutsFile           string `json:"cuts_file"`
	HelicityMap        string `json:"helicity_map"`
	StabilityWindow    int    `json:"stability_window"`
	AllowLowSubbankIDs bool   `json:"allow_low_subbank_ids" ini:"allow_low_subbank_ids"`

	UseDB  bool   `json:"use_db" ini:"use_db"`
	Host   string `json:"host"`
	User   string `json:"user"`
	Passwd string `json:"pass" ini:"pass"`
	DBName string `json:"dbname" ini:"dbname"`

	NumWorkers  int    `json:"num_workers"`
	SummaryFile string `json:"summary_file"`
	Logger      string `json:"logger"`
}

const (
	DefaultFileStem      = "QwRun_"
	DefaultFileExtension = "log"
	DefaultOnlineTimeout = 30
	maxEventNumber       = int(^uint(0) >> 1)
)

var configuration Configuration

func GetConfiguration() Configuration {
	return configuration
}

func SetConfiguration(config Configuration) {
	configuration = config
}

// Runs lists the runs to analyze: the explicit list when given, otherwise
// every run of the range.
func (c Configuration) Runs() ([]int, error) {
	if len(c.RunList) > 0 {
		return c.RunList, nil
	}
	first, last, err := bounds("run_range", c.RunRange, 0)
	if err != nil {
		return nil, err
	}
	runs := make([]int, 0, last-first+1)
	for run := first; run <= last; run++ {
		runs = append(runs, run)
	}
	return runs, nil
}

// EventBounds is the inclusive physics event number window; it is open
// ended when unset.
func (c Configuration) EventBounds() (first, last int, err error) {
	return bounds("event_range", c.EventRange, maxEventNumber)
}

func (c Configuration) SegmentBounds() (first, last int, err error) {
	return bounds("segment_range", c.SegmentRange, maxEventNumber)
}

func bounds(name string, values []int, open int) (first, last int, err error) {
	switch len(values) {
	case 0:
		return 0, open, nil
	case 1:
		return values[0], open, nil
	case 2:
		if values[1] < values[0] {
			return 0, 0, fmt.Errorf("%s: last %d is below first %d", name, values[1], values[0])
		}
		return values[0], values[1], nil
	}
	return 0, 0, fmt.Errorf("%s: want at most two values, got %d", name, len(values))
}
