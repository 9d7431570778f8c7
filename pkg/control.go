package decoder

import (
	"fmt"
	"time"
)

// ControlState keeps the run bookkeeping of the control events.
type ControlState struct {
	Found           bool
	PrestartTime    uint32
	RunNumber       uint32
	RunType         uint32
	StartTime       uint32
	EndTime         uint32
	EndEventCount   uint32
	GoTimes         []uint32
	GoEventCounts   []uint32
	PauseTimes      []uint32
	PauseEventCount []uint32
}

// ControlSummary is the run timing reported at end of run.
type ControlSummary struct {
	RunNumber     uint32    `json:"run_number"`
	RunType       uint32    `json:"run_type"`
	PrestartTime  time.Time `json:"prestart_time"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Duration      float64   `json:"duration_seconds"`
	EndEventCount uint32    `json:"end_event_count"`
	Pauses        int       `json:"pauses"`
	PauseCounts   []uint32  `json:"pause_event_counts,omitempty"`
}

func (c *ControlState) Reset() {
	*c = ControlState{}
}

func (c *ControlState) Process(event *Event) {
	if event.Kind != ControlEvent {
		return
	}
	data := event.ControlData
	c.Found = true
	switch event.Control {
	case Sync:
	case Prestart:
		c.Reset()
		c.Found = true
		c.PrestartTime = data.Time
		c.RunNumber = data.RunNumber
		c.RunType = data.RunType
	case Go:
		c.GoTimes = append(c.GoTimes, data.Time)
		c.GoEventCounts = append(c.GoEventCounts, data.EventCount)
		if len(c.GoTimes) == 1 {
			c.StartTime = data.Time
		}
	case Pause:
		c.PauseTimes = append(c.PauseTimes, data.Time)
		c.PauseEventCount = append(c.PauseEventCount, data.EventCount)
	case End:
		c.EndTime = data.Time
		c.EndEventCount = data.EventCount
	}
	if configuration.Verbosity > 1 {
		message := fmt.Sprintf("%v event: time %d, run %d, count %d", event.Control, data.Time, data.RunNumber, data.EventCount)
		logger.Info(message, "control")
	}
}

func (c *ControlState) RunSummary() ControlSummary {
	summary := ControlSummary{
		RunNumber:     c.RunNumber,
		RunType:       c.RunType,
		EndEventCount: c.EndEventCount,
		Pauses:        len(c.PauseTimes),
		PauseCounts:   c.PauseEventCount,
	}
	if c.PrestartTime > 0 {
		summary.PrestartTime = time.Unix(int64(c.PrestartTime), 0).UTC()
	}
	if c.StartTime > 0 {
		summary.StartTime = time.Unix(int64(c.StartTime), 0).UTC()
	}
	if c.EndTime > 0 {
		summary.EndTime = time.Unix(int64(c.EndTime), 0).UTC()
	}
	if c.StartTime > 0 && c.EndTime > 0 {
		summary.Duration = float64(int64(c.EndTime) - int64(c.StartTime))
	}
	return summary
}

// Report logs the run timing the way the end of run prints it.
func (c *ControlState) Report() {
	if !c.Found {
		logger.Info("No control events were found in this run", "control")
		return
	}
	summary := c.RunSummary()
	logger.Info(fmt.Sprintf("Run number: %d, run type: %d", summary.RunNumber, summary.RunType), "control")
	logger.Info(fmt.Sprintf("Start time: %d, end time: %d", c.StartTime, c.EndTime), "control")
	if summary.Duration > 0 {
		logger.Info(fmt.Sprintf("Run duration: %.0f s", summary.Duration), "control")
	} else {
		logger.Info("Run duration: n/a", "control")
	}
	logger.Info(fmt.Sprintf("End event counter: %d, pauses: %d", c.EndEventCount, summary.Pauses), "control")
}
