package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	decoder "github.com/parity-daq/decoder_go/pkg"
	"gopkg.in/ini.v1"
)

func defaultConfiguration() decoder.Configuration {
	var config decoder.Configuration

	config.Verbosity = 0
	config.DataDir = "."
	config.FileStem = decoder.DefaultFileStem
	config.FileExtension = decoder.DefaultFileExtension
	config.CodaVersion = "auto"
	config.OnlineTimeout = decoder.DefaultOnlineTimeout
	config.OnlineBuffer = 100
	config.Host = "localhost"
	config.User = "qweak"
	config.DBName = "qw_run"
	config.NumWorkers = 1
	config.Logger = "slog"
	return config
}

// LoadConfiguration reads a JSON file, or an INI file when the name ends
// in .ini or .conf, over the defaults. An empty name keeps the defaults.
func LoadConfiguration(filename string) (decoder.Configuration, error) {
	config := defaultConfiguration()
	if filename == "" {
		return config, nil
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".ini", ".conf":
		if err := ini.MapToWithMapper(&config, ini.TitleUnderscore, filename); err != nil {
			return config, fmt.Errorf("error parsing %s: %w", filename, err)
		}
		return config, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = json.Unmarshal(data, &config)
	if err != nil {
		return config, err
	}
	return config, nil
}

func printConfiguration(config decoder.Configuration, logger decoder.Logger) {
	logger.Info(fmt.Sprintf("Data dir: %s", config.DataDir), "config")
	logger.Info(fmt.Sprintf("File name: %s<run>.%s", config.FileStem, config.FileExtension), "config")
	logger.Info(fmt.Sprintf("Runs: range %v, list %v", config.RunRange, config.RunList), "config")
	logger.Info(fmt.Sprintf("Event range: %v", config.EventRange), "config")
	logger.Info(fmt.Sprintf("Segment range: %v", config.SegmentRange), "config")
	logger.Info(fmt.Sprintf("Chain files: %t", config.ChainFiles), "config")
	logger.Info(fmt.Sprintf("Skip: %d", config.Skip), "config")
	logger.Info(fmt.Sprintf("Max events: %d", config.MaxEvents), "config")
	logger.Info(fmt.Sprintf("CODA version: %s", config.CodaVersion), "config")
	logger.Info(fmt.Sprintf("Online: %t (timeout %d s)", config.Online, config.OnlineTimeout), "config")
	logger.Info(fmt.Sprintf("Channel maps: %s", config.ChannelMap), "config")
	logger.Info(fmt.Sprintf("Pedestal file: %s", config.PedestalFile), "config")
	logger.Info(fmt.Sprintf("Cuts file: %s", config.CutsFile), "config")
	logger.Info(fmt.Sprintf("Helicity map: %s", config.HelicityMap), "config")
	logger.Info(fmt.Sprintf("Stability window: %d", config.StabilityWindow), "config")
	logger.Info(fmt.Sprintf("Use DB: %t", config.UseDB), "config")
	if config.UseDB {
		logger.Info(fmt.Sprintf("Host: %s", config.Host), "config")
		logger.Info(fmt.Sprintf("DB name: %s", config.DBName), "config")
	}
	logger.Info(fmt.Sprintf("Number of workers: %d", config.NumWorkers), "config")
	logger.Info(fmt.Sprintf("Summary file: %s", config.SummaryFile), "config")
	logger.Info(fmt.Sprintf("Verbosity: %d", config.Verbosity), "config")
}
