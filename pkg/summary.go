package decoder

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/parity-daq/decoder_go/pkg/channels"
	"github.com/parity-daq/decoder_go/pkg/errflag"
	"github.com/parity-daq/decoder_go/pkg/helicity"
)

// ChannelSummary holds the run statistics of one channel.
type ChannelSummary struct {
	Subsystem    string                 `json:"subsystem"`
	Name         string                 `json:"name"`
	Kind         string                 `json:"kind"`
	Mean         float64                `json:"mean"`
	Error        float64                `json:"error"`
	Width        float64                `json:"width"`
	Count        int                    `json:"count"`
	Failures     channels.ErrorCounters `json:"failures"`
	FailureTotal int                    `json:"failure_total"`
}

type HelicitySummary struct {
	Counters  helicity.Counters `json:"counters"`
	LastState helicity.Snapshot `json:"last_state"`
}

// RunSummary is reported at the end of each run or segment.
type RunSummary struct {
	Run      string           `json:"run"`
	Events   int              `json:"events"`
	Control  ControlSummary   `json:"control"`
	Channels []ChannelSummary `json:"channels"`
	Helicity *HelicitySummary `json:"helicity,omitempty"`
}

// Summary closes the running sums and gathers the run statistics, with
// channels sorted by subsystem and name.
func (p *Pipeline) Summary(label string, control ControlSummary) RunSummary {
	summary := RunSummary{Run: label, Events: p.events, Control: control}
	for _, subsystem := range p.channelSystems {
		subsystem.Finish()
		for i, ch := range subsystem.Channels() {
			running := subsystem.running[i]
			counters := ch.Counters()
			summary.Channels = append(summary.Channels, ChannelSummary{
				Subsystem:    subsystem.Name(),
				Name:         ch.Name(),
				Kind:         ch.Kind().String(),
				Mean:         running.Value(),
				Error:        running.ValueError(),
				Width:        running.ValueWidth(),
				Count:        running.GoodEventCount(),
				Failures:     counters,
				FailureTotal: counters.Total(),
			})
		}
	}
	slices.SortFunc(summary.Channels, func(a, b ChannelSummary) int {
		if c := strings.Compare(a.Subsystem, b.Subsystem); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	if p.helicity != nil {
		summary.Helicity = &HelicitySummary{
			Counters:  p.helicity.Counters(),
			LastState: p.helicity.Snapshot(),
		}
	}
	return summary
}

func (s RunSummary) WriteJSON(filename string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding run summary: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return &ErrOpenFile{Filename: filename, Err: err}
	}
	return nil
}

func (s RunSummary) Log() {
	logger.Info(fmt.Sprintf("Run %s: %d events processed", s.Run, s.Events), "summary")
	for _, ch := range s.Channels {
		message := fmt.Sprintf("%s/%s: mean %g +/- %g, width %g, %d good events, %d failures",
			ch.Subsystem, ch.Name, ch.Mean, ch.Error, ch.Width, ch.Count, ch.FailureTotal)
		logger.Info(message, "summary")
	}
	if s.Helicity != nil {
		c := s.Helicity.Counters
		message := fmt.Sprintf("Helicity: %d missed gates, %d missed blocks, %d sync errors, %d helicity errors",
			c.MissedGates, c.MissedEventBlocks, c.SyncErrors, c.HelicityErrors)
		logger.Info(message, "summary")
		if flags := errflag.Describe(s.Helicity.LastState.ErrorFlag); len(flags) > 0 {
			logger.Info(fmt.Sprintf("Helicity flags on the last event: %s", strings.Join(flags, ", ")), "summary")
		}
	}
}
