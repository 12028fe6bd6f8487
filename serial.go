package antonpaar

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goburrow/serial"
	"github.com/pkg/errors"
)

const (
	serialBaudRate = 9600
	serialDataBits = 8
	serialStopBits = 1
	serialParity   = "N"

	commandTerminator = "\r"
	commandError      = "???"

	cmdData    = "GET DATA"
	cmdStatus  = "GET STATUS"
	cmdSensor  = "GET SENSOR"
	cmdConfig  = "GET CONFIG"
	cmdShtOn   = "SHT ON"
	cmdShtOff  = "SHT OFF"
	cmdShtGet  = "GET SHT"
	cmdModeFmt = "MODE %d"

	confirmShtOn  = "SET SHT ON"
	confirmShtOff = "SET SHT OFF"
	statusShtOn   = "SHT: ON"
	statusShtOff  = "SHT: OFF"

	readBufferSize = 1024
)

var (
	errNotConnected = errors.New("serial port not connected")
	errCommand      = errors.New("instrument reported a command error")
)

// Serial denotes an instrument connected via its RS232 interface
type Serial struct {
	*Instrument

	b *serialBackend
}

// NewSerial instantiates a new instrument connected to the serial device port
// (9600 baud, 8N1, no handshake), executing functional options, if any. Unless
// disabled, a full update is performed (its failure is not fatal, cf. Valid())
func NewSerial(port string, options ...Option) (*Serial, error) {
	port = strings.TrimSpace(port)
	cfg := newConfig(options)

	// Open the serial port (if not provided as option)
	p := cfg.serialPort
	if p == nil {
		var err error
		if p, err = serial.Open(&serial.Config{
			Address:  port,
			BaudRate: serialBaudRate,
			DataBits: serialDataBits,
			StopBits: serialStopBits,
			Parity:   serialParity,
			Timeout:  cfg.pollTimeout,
		}); err != nil {
			return nil, errors.Wrapf(err, "failed to open serial port `%s`", port)
		}
	}

	b := &serialBackend{
		port:        p,
		settleDelay: cfg.settleDelay,
		maxPolls:    cfg.maxPolls,
		logger:      cfg.logger,
	}
	s := &Serial{
		Instrument: newInstrument(b, port, cfg),
		b:          b,
	}
	if err := b.discard(); err != nil {
		s.logger.Warnf("failed to discard input on `%s`: %s", port, err)
	}
	s.initialize(cfg)

	return s, nil
}

// Connected returns if the serial port is (still) open
func (s *Serial) Connected() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.b.port != nil
}

// SetMode sets the display mode of the instrument (1-7, cf. DisplayMode)
func (s *Serial) SetMode(mode int) bool {
	if mode < int(DisplayModeResistance) || mode > int(DisplayModeResistanceRatio) {
		return false
	}

	return s.command(func(snap *Snapshot) error {
		cmd := fmt.Sprintf(cmdModeFmt, mode)
		resp, err := s.b.exchange(snap, "GET "+cmd)
		if err != nil {
			return err
		}
		if !strings.Contains(resp, cmd) {
			return errors.Errorf("mode change to %d not confirmed", mode)
		}

		snap.DisplayMode = DisplayMode(mode)
		return nil
	}) == nil
}

// SetResistance sets the display mode to resistance
func (s *Serial) SetResistance() bool {
	return s.SetMode(int(DisplayModeResistance))
}

// SetTemperature sets the display mode to temperature
func (s *Serial) SetTemperature() bool {
	return s.SetMode(int(DisplayModeTemperature))
}

// SetResistanceStatistics sets the display mode to resistance statistics
func (s *Serial) SetResistanceStatistics() bool {
	return s.SetMode(int(DisplayModeResistanceStatistics))
}

// SetTemperatureStatistics sets the display mode to temperature statistics
func (s *Serial) SetTemperatureStatistics() bool {
	return s.SetMode(int(DisplayModeTemperatureStatistics))
}

// ShtOn turns on the self heating mode (reduced current)
func (s *Serial) ShtOn() bool {
	return s.command(func(snap *Snapshot) error {
		return s.b.setSht(snap, ShtOn)
	}) == nil
}

// ShtOff turns off the self heating mode (standard current)
func (s *Serial) ShtOff() bool {
	return s.command(func(snap *Snapshot) error {
		return s.b.setSht(snap, ShtOff)
	}) == nil
}

// QuerySht queries the self heating status of the instrument
func (s *Serial) QuerySht() ShtStatus {
	var status ShtStatus
	_ = s.command(func(snap *Snapshot) error {
		status = s.b.querySht(snap)
		return nil
	})

	return status
}

// ShtToggle queries the self heating status and switches to the opposite one. It
// fails without issuing any command if the current status cannot be determined
func (s *Serial) ShtToggle() bool {
	var toggled bool
	_ = s.command(func(snap *Snapshot) error {
		switch s.b.querySht(snap) {
		case ShtOn:
			toggled = s.b.setSht(snap, ShtOff) == nil
		case ShtOff:
			toggled = s.b.setSht(snap, ShtOn) == nil
		}

		// The queried status is kept even if switching failed
		return nil
	})

	return toggled
}

////////////////////////////////////////////////////////////////////////////////

type serialBackend struct {
	port        serial.Port
	settleDelay time.Duration
	maxPolls    int

	logger Logger
}

func (b *serialBackend) update(s *Snapshot, parseAll bool) error {
	resp, err := b.exchange(s, cmdData)
	if err != nil {
		return err
	}

	prev1, prev2 := s.Channel1, s.Channel2
	if !parseSerialValues(resp, s) {
		s.Valid = false
		return errors.Errorf("no sensor values in response to `%s`", cmdData)
	}
	keepSensorType(&s.Channel1, prev1)
	keepSensorType(&s.Channel2, prev2)

	if !parseAll {
		return nil
	}

	s.SHT = b.querySht(s)
	for _, q := range []struct {
		cmd   string
		parse func(string, *Snapshot) bool
	}{
		{cmdStatus, func(resp string, s *Snapshot) bool { return parseSerialStatus(resp, &s.Metadata) }},
		{cmdSensor, func(resp string, s *Snapshot) bool { return parseSerialSensorTypes(resp, &s.Channel1, &s.Channel2) }},
		{cmdConfig, func(resp string, s *Snapshot) bool { return parseSerialVersion(resp, &s.Metadata) }},
	} {
		resp, err := b.exchange(s, q.cmd)
		if err != nil {
			return err
		}
		if !q.parse(resp, s) {
			s.Valid = false
			return errors.Errorf("unexpected response to `%s`", q.cmd)
		}
	}

	return nil
}

func (b *serialBackend) close() error {
	if b.port == nil {
		return nil
	}

	err := b.port.Close()
	b.port = nil

	return errors.Wrap(err, "failed to close serial port")
}

func (b *serialBackend) setSht(s *Snapshot, status ShtStatus) error {
	cmd, confirm := cmdShtOn, confirmShtOn
	if status == ShtOff {
		cmd, confirm = cmdShtOff, confirmShtOff
	}

	resp, err := b.exchange(s, cmd)
	if err != nil {
		return err
	}
	if !strings.Contains(resp, confirm) {
		return errors.Errorf("`%s` not confirmed by instrument", cmd)
	}

	s.SHT = status
	return nil
}

func (b *serialBackend) querySht(s *Snapshot) ShtStatus {
	resp, err := b.exchange(s, cmdShtGet)
	if err != nil {
		b.logger.Debugf("failed to query SHT status: %s", err)
		s.SHT = ShtUnknown
		return ShtUnknown
	}

	s.SHT = parseSerialSht(resp)
	return s.SHT
}

// exchange sends a command and returns the response, updating the validity flag
func (b *serialBackend) exchange(s *Snapshot, cmd string) (string, error) {
	resp, err := b.query(cmd)
	if err == nil && strings.Contains(resp, commandError) {
		err = errors.Wrapf(errCommand, "command `%s`", cmd)
	}

	s.Valid = err == nil
	return resp, err
}

// query sends a command and collects the response. The instrument does not mark
// the end of a response, so data is polled until nothing arrives within the
// settle delay (or maxPolls is reached)
func (b *serialBackend) query(cmd string) (string, error) {
	if b.port == nil {
		return "", errNotConnected
	}

	if err := b.discard(); err != nil {
		return "", err
	}
	if _, err := b.port.Write([]byte(cmd + commandTerminator)); err != nil {
		return "", errors.Wrapf(err, "failed to send command `%s`", cmd)
	}
	time.Sleep(b.settleDelay)

	var (
		resp strings.Builder
		buf  = make([]byte, readBufferSize)
	)
	for i := 0; i < b.maxPolls; i++ {
		n, err := b.read(buf)
		if err != nil {
			return "", errors.Wrapf(err, "failed to read response to `%s`", cmd)
		}
		if n == 0 {
			break
		}
		resp.Write(buf[:n])
		time.Sleep(b.settleDelay)
	}

	b.logger.Debugf("`%s` -> %q", cmd, resp.String())
	return resp.String(), nil
}

// read returns the number of bytes currently available (zero on timeout)
func (b *serialBackend) read(buf []byte) (int, error) {
	n, err := b.port.Read(buf)
	if err == serial.ErrTimeout || (err == io.EOF && n == 0) {
		return 0, nil
	}
	return n, err
}

// discard drops any pending input
func (b *serialBackend) discard() error {
	if b.port == nil {
		return errNotConnected
	}

	buf := make([]byte, readBufferSize)
	for i := 0; i < b.maxPolls; i++ {
		n, err := b.read(buf)
		if err != nil {
			return errors.Wrap(err, "failed to discard input")
		}
		if n == 0 {
			return nil
		}
	}

	return nil
}

////////////////////////////////////////////////////////////////////////////////

func splitLines(resp string) []string {
	return strings.FieldsFunc(resp, func(r rune) bool {
		return r == '\r' || r == '\n'
	})
}

// parseSerialValues parses the response to GET DATA. Both channels are invalidated
// first, parsing stops at the first line with less than two tokens. The sample
// count defaults to a single reading unless reported by the instrument
func parseSerialValues(resp string, s *Snapshot) bool {
	ch1, ch2 := &s.Channel1, &s.Channel2
	ch1.Invalidate()
	ch2.Invalidate()
	s.NumberOfSamples = 1

	hits := 0
	for _, line := range splitLines(resp) {
		tokens := strings.Fields(line)
		if len(tokens) <= 1 {
			break
		}

		switch tokens[0] {
		case "R1=":
			ch1.Resistance = numberOrNil(tokens[1])
		case "R2=":
			ch2.Resistance = numberOrNil(tokens[1])
		case "T1=":
			ch1.Temperature = numberOrNil(tokens[1])
		case "T2=":
			ch2.Temperature = numberOrNil(tokens[1])
		case "SENSOR1=":
			ch1.ID = strings.ReplaceAll(tokens[1], "No:", "")
		case "SENSOR2=":
			ch2.ID = strings.ReplaceAll(tokens[1], "No:", "")
		case "SAMPLES=":
			if n, err := strconv.Atoi(tokens[1]); err == nil && n > 0 {
				s.NumberOfSamples = n
			}
			continue
		default:
			continue
		}
		hits++
	}

	return hits > 0
}

// parseSerialStatus parses the response to GET STATUS (instrument type, serial
// number and MAC address)
func parseSerialStatus(resp string, m *Metadata) bool {
	hits := 0
	for _, line := range splitLines(resp) {
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			break
		}
		if len(tokens) == 1 {
			m.Type = tokens[0]
			continue
		}

		switch tokens[0] {
		case "S/N:":
			m.SerialNumber = tokens[1]
			hits++
		case "MAC:":
			m.MAC = tokens[1]
			hits++
		}
	}

	return hits == 2
}

// parseSerialSensorTypes parses the response to GET SENSOR, the type of each sensor
// is given in the line following its header
func parseSerialSensorTypes(resp string, ch1, ch2 *Channel) bool {
	hits := 0
	lines := splitLines(resp)
	for i := 0; i < len(lines)-1; i++ {
		if strings.Contains(lines[i], "Sensor 1 =") {
			ch1.Type = ParseSensorType(lines[i+1])
			hits++
		}
		if strings.Contains(lines[i], "Sensor 2 =") {
			ch2.Type = ParseSensorType(lines[i+1])
			hits++
		}
	}

	return hits == 2
}

// parseSerialVersion parses the response to GET CONFIG for the firmware version
func parseSerialVersion(resp string, m *Metadata) bool {
	for _, line := range splitLines(resp) {
		if tokens := strings.Fields(line); len(tokens) == 2 && tokens[0] == "Software" {
			m.FirmwareVersion = tokens[1]
			return true
		}
	}

	return false
}

func parseSerialSht(resp string) ShtStatus {
	switch {
	case strings.Contains(resp, statusShtOff):
		return ShtOff
	case strings.Contains(resp, statusShtOn):
		return ShtOn
	default:
		return ShtUnknown
	}
}

// keepSensorType retains the sensor type (only reported upon GET SENSOR) as long
// as the same sensor is connected
func keepSensorType(ch *Channel, prev Channel) {
	if ch.Type == SensorTypeUnknown && ch.ID != Unknown && ch.ID == prev.ID {
		ch.Type = prev.Type
	}
}
