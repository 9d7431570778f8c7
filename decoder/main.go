package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sqlx "github.com/jmoiron/sqlx"
	decoder "github.com/parity-daq/decoder_go/pkg"
	"github.com/parity-daq/decoder_go/pkg/helicity"
	"github.com/spf13/pflag"
)

var dbConn *sqlx.DB
var configuration decoder.Configuration

var logger decoder.Logger = NewSlogLogger(0)

func main() {
	os.Exit(run())
}

func run() int {
	configFilename := pflag.StringP("config", "c", "", "Configuration file path (.json, .ini or .conf)")
	runs := pflag.IntSliceP("run", "r", nil, "Runs to analyze, overriding the configuration")
	online := pflag.Bool("online", false, "Read records from standard input")
	verbosity := pflag.IntP("verbosity", "v", 0, "Verbosity level")
	chain := pflag.Bool("chain", false, "Chain the segments of each run into one stream")
	pflag.Parse()

	var err error
	configuration, err = LoadConfiguration(*configFilename)
	if err != nil {
		message := fmt.Errorf("Error reading configuration file: %w", err)
		logger.Error(message.Error())
		return 1
	}
	if pflag.CommandLine.Changed("run") {
		configuration.RunList = *runs
	}
	if pflag.CommandLine.Changed("online") {
		configuration.Online = *online
	}
	if pflag.CommandLine.Changed("verbosity") {
		configuration.Verbosity = *verbosity
	}
	if pflag.CommandLine.Changed("chain") {
		configuration.ChainFiles = *chain
	}

	var flush func()
	logger, flush, err = newLogger(configuration.Logger, configuration.Verbosity)
	if err != nil {
		logger = NewSlogLogger(configuration.Verbosity)
		logger.Error(err.Error())
		return 1
	}
	defer flush()
	decoder.SetConfiguration(configuration)
	decoder.SetLogger(logger)
	helicity.SetLogger(logger)

	if configuration.Verbosity > 0 {
		message := fmt.Sprintf("Reading configuration file: %s", *configFilename)
		logger.Info(message, "main")
		printConfiguration(configuration, logger)
	}

	if configuration.UseDB {
		dbConn, err = decoder.ConnectToDatabase(configuration.User, configuration.Passwd, configuration.Host, configuration.DBName)
		if err != nil {
			message := fmt.Errorf("Error connection to database: %w", err)
			logger.Error(message.Error())
			return 1
		}
		defer dbConn.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var stream *decoder.Stream
	if configuration.Online {
		live := decoder.NewLiveSource(configuration.OnlineBuffer, time.Duration(configuration.OnlineTimeout)*time.Second)
		stream, err = decoder.NewLiveStream(configuration, live)
		go func() {
			if err := feedLiveSource(ctx, live, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(err.Error())
			}
		}()
	} else {
		stream, err = decoder.NewStream(configuration)
	}
	if err != nil {
		logger.Error(fmt.Errorf("Error setting up the event stream: %w", err).Error())
		return 1
	}

	restart := make(chan os.Signal, 1)
	signal.Notify(restart, syscall.SIGUSR1)
	defer signal.Stop(restart)
	go func() {
		for range restart {
			stream.RequestRestart()
		}
	}()

	start := time.Now()
	r := &runner{cfg: configuration, stream: stream, db: dbConn}
	err = r.Run(ctx)
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Total time: %d ms", time.Since(start).Milliseconds()), "main")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(err.Error())
		return 1
	}
	return 0
}
