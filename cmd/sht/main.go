package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fako1024/antonpaar"
	"github.com/fako1024/antonpaar/sink"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

type config struct {
	port    string
	host    string
	cycles  int
	settle  time.Duration
	timeout time.Duration
	debug   bool
}

// Toggles the self heating mode via the serial interface and records the resulting
// temperature statistics via the XML interface of the same instrument
func main() {

	// Parse command line options
	var cfg config
	flag.StringVar(&cfg.port, "port", "/dev/ttyUSB0", "serial device of the instrument")
	flag.StringVar(&cfg.host, "host", "10.10.10.150", "host name / address of the instrument")
	flag.IntVar(&cfg.cycles, "cycles", 100000, "number of SHT toggle cycles")
	flag.DurationVar(&cfg.settle, "settle", time.Second, "delay after each toggle")
	flag.DurationVar(&cfg.timeout, "timeout", 5*time.Minute, "maximum time to wait for statistics per cycle")
	flag.BoolVar(&cfg.debug, "debug", false, "enable debug output")
	flag.Parse()

	logger := antonpaar.NewDefaultLogger(cfg.debug)

	apSerial, err := antonpaar.NewSerial(cfg.port, antonpaar.WithLogger(logger))
	if err != nil {
		logger.Fatalf("failed to initialize serial instrument: %s", err)
	}
	apXML, err := antonpaar.NewXML(cfg.host, antonpaar.WithLogger(logger))
	if err != nil {
		logger.Fatalf("failed to initialize XML instrument: %s", err)
	}
	apXML.AddUpdateHandler(func(inst *antonpaar.Instrument) {
		s := inst.Snapshot()
		logger.Debugf("%8.1f %s (SHT: %s)", s.Elapsed().Seconds(), &s, apSerial.SHT())
	})

	var stop atomic.Bool
	sigChan := make(chan os.Signal, 32)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		logger.Infof("got signal, terminating after current cycle")
		stop.Store(true)
	}()

	for i := 0; i < cfg.cycles && !stop.Load(); i++ {
		if !apSerial.ShtToggle() {
			logger.Warnf("failed to toggle SHT (status: %s)", apSerial.SHT())
		}
		time.Sleep(cfg.settle)

		// Wait for a full set of statistics
		deadline := time.Now().Add(cfg.timeout)
		for !stop.Load() && time.Now().Before(deadline) {
			if apXML.Refresh(true) && apXML.Channel1().TMean != nil {
				break
			}
			time.Sleep(apXML.UpdateInterval())
		}

		s := apXML.Snapshot()
		if s.Channel1.TMean == nil {
			logger.Warnf("no statistics available in cycle %d", i)
			continue
		}
		fmt.Printf("%s %s\n", sink.FormatLine(s), apSerial.SHT())
	}

	if err := multierr.Append(apSerial.Close(), apXML.Close()); err != nil {
		logger.Errorf("failed to shut down cleanly: %s", err)
		os.Exit(1)
	}
}
