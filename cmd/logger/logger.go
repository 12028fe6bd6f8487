package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fako1024/antonpaar"
	"github.com/fako1024/antonpaar/sink"
	"go.uber.org/multierr"
)

type config struct {
	host     string
	interval time.Duration
	retry    time.Duration
	samples  int
	file     string
	natsURL  string
	subject  string
	debug    bool
}

func main() {

	// Parse command line options
	var cfg config
	flag.StringVar(&cfg.host, "host", "10.10.10.150", "host name / address of the instrument")
	flag.DurationVar(&cfg.interval, "interval", 20*time.Second, "update interval (minimum 1.44s)")
	flag.DurationVar(&cfg.retry, "retry", 0, "delay before retrying a failed update (default: update interval)")
	flag.IntVar(&cfg.samples, "samples", antonpaar.Forever, "number of samples to acquire")
	flag.StringVar(&cfg.file, "file", "SHT_XML.txt", "log file to write to")
	flag.StringVar(&cfg.natsURL, "nats", "", "URL of a NATS server to publish readings to (optional)")
	flag.StringVar(&cfg.subject, "subject", sink.DefaultSubject, "NATS subject to publish readings on")
	flag.BoolVar(&cfg.debug, "debug", false, "enable debug output")
	flag.Parse()

	logger := antonpaar.NewDefaultLogger(cfg.debug)

	ap, err := antonpaar.NewXML(cfg.host,
		antonpaar.WithLogger(logger),
		antonpaar.WithUpdateInterval(cfg.interval),
		antonpaar.WithRetryDelay(cfg.retry),
	)
	if err != nil {
		logger.Fatalf("failed to initialize instrument: %s", err)
	}

	meta := ap.Metadata()
	logger.Infof("manufacturer: %s, type: %s, serial number: %s, firmware: %s, port: %s",
		meta.Manufacturer, meta.Type, meta.SerialNumber, meta.FirmwareVersion, meta.Port)
	logger.Infof("channel 1: %s, channel 2: %s", ap.Channel1(), ap.Channel2())

	logFile := sink.NewLogFile(cfg.file, os.Stdout, logger)
	if err := logFile.WriteHeader(ap.Instrument); err != nil {
		logger.Fatalf("failed to initialize log file: %s", err)
	}
	ap.AddUpdateHandler(logFile.Handle)

	var closers []func() error
	if cfg.natsURL != "" {
		nc, err := sink.ConnectNATS(cfg.natsURL)
		if err != nil {
			logger.Fatalf("failed to set up publisher: %s", err)
		}
		closers = append(closers, func() error {
			nc.Close()
			return nil
		})
		ap.AddUpdateHandler(sink.NewPublisher(nc, cfg.subject, logger).Handle)
	}
	closers = append(closers, ap.Close)

	done := make(chan struct{})
	ap.AddLoopReadyHandler(func(*antonpaar.Instrument) {
		logger.Infof("sampling loop terminated")
		close(done)
	})

	sigChan := make(chan os.Signal, 32)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		logger.Infof("got signal, stopping sampling loop")
		ap.RequestStop()
	}()

	ap.StartSamplingLoopAsync(cfg.samples)
	<-done

	var closeErr error
	for _, fn := range closers {
		closeErr = multierr.Append(closeErr, fn())
	}
	if closeErr != nil {
		logger.Errorf("failed to shut down cleanly: %s", closeErr)
		os.Exit(1)
	}
}
