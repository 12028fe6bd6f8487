package sink

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fako1024/antonpaar"
	"github.com/pkg/errors"
)

const headerTerminator = "@@@@"

// LogFile records the statistics of an instrument in a text file (and optionally
// echoes each line to a writer)
type LogFile struct {
	path string
	echo io.Writer

	mu     sync.Mutex
	logger antonpaar.Logger
}

// NewLogFile instantiates a new log file sink writing to path
func NewLogFile(path string, echo io.Writer, logger antonpaar.Logger) *LogFile {
	if logger == nil {
		logger = &antonpaar.NullLogger{}
	}
	return &LogFile{
		path:   path,
		echo:   echo,
		logger: logger,
	}
}

// WriteHeader (re-)creates the log file, writing the instrument properties
func (l *LogFile) WriteHeader(inst *antonpaar.Instrument) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.WriteFile(l.path, []byte(FormatHeader(inst.Snapshot())), 0644); err != nil {
		return errors.Wrapf(err, "failed to write header to `%s`", l.path)
	}
	return nil
}

// Handle appends a line to the log file, it can be registered as update handler
func (l *LogFile) Handle(inst *antonpaar.Instrument) {
	s := inst.Snapshot()

	// Lines are only written once statistics are available
	if s.Channel1.TMean == nil {
		return
	}

	line := FormatLine(s)
	if l.echo != nil {
		fmt.Fprintln(l.echo, line)
	}
	if err := l.append(line); err != nil {
		l.logger.Errorf("failed to write to log file: %s", err)
	}
}

func (l *LogFile) append(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open `%s`", l.path)
	}
	if _, err = fmt.Fprintln(f, line); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to append to `%s`", l.path)
	}

	return f.Close()
}

// FormatHeader returns a description of the instrument and its channels
func FormatHeader(s antonpaar.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Manufacturer:    %s\n", s.Metadata.Manufacturer)
	fmt.Fprintf(&b, "Instrument Type: %s\n", s.Metadata.Type)
	fmt.Fprintf(&b, "Serial number:   %s\n", s.Metadata.SerialNumber)
	fmt.Fprintf(&b, "Firmware:        %s\n", s.Metadata.FirmwareVersion)
	fmt.Fprintf(&b, "Port:            %s\n", s.Metadata.Port)
	fmt.Fprintf(&b, "# Samples:       %d\n", s.NumberOfSamples)
	fmt.Fprintf(&b, "Channel 1:       %s %s\n", s.Channel1.Type, s.Channel1.ID)
	fmt.Fprintf(&b, "Channel 2:       %s %s\n", s.Channel2.Type, s.Channel2.ID)
	fmt.Fprintln(&b, headerTerminator)

	return b.String()
}

// FormatLine returns the elapsed time since initialization (in seconds) and the
// temperature statistics of both channels as fixed width line
func FormatLine(s antonpaar.Snapshot) string {
	return fmt.Sprintf("%8.1f %11s ± %s  %11s ± %s",
		s.Elapsed().Seconds(),
		formatFloat(s.Channel1.TMean), formatFloat(s.Channel1.TStdDev),
		formatFloat(s.Channel2.TMean), formatFloat(s.Channel2.TStdDev),
	)
}

func formatFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.5f", *v)
}
