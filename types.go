package antonpaar

import (
	"fmt"
	"time"
)

// Unknown is the placeholder for any textual property that has not (yet) been
// read from the instrument
const Unknown = "<----->"

// Manufacturer denotes the (fixed) manufacturer of all supported instruments
const Manufacturer = "Anton Paar"

// SensorType denotes the type / characteristic of a sensor connected to a channel
type SensorType int

const (

	// SensorTypeUnknown denotes an unspecified sensor
	SensorTypeUnknown SensorType = iota

	// SensorTypeIEC751 denotes an industrial Pt sensor, e.g. a PT100
	SensorTypeIEC751

	// SensorTypeITS90 denotes a regular SPRT
	SensorTypeITS90

	// SensorTypeITS90A denotes a two-region SPRT
	SensorTypeITS90A

	// SensorTypePolynomial4 denotes a sensor characterized by a fourth order polynomial
	SensorTypePolynomial4
)

var sensorTypeNames = [...]string{"Unknown", "IEC751", "ITS90", "ITS90A", "Polynomial4"}

// String fulfils the Stringer interface
func (t SensorType) String() string {
	if t < 0 || int(t) >= len(sensorTypeNames) {
		return fmt.Sprintf("SensorType(%d)", int(t))
	}
	return sensorTypeNames[t]
}

// DisplayMode denotes the quantity currently shown on the front panel of the instrument
type DisplayMode int

// Display modes, numbered as expected by the MODE command of the serial interface
const (
	DisplayModeUnknown DisplayMode = iota
	DisplayModeResistance
	DisplayModeTemperature
	DisplayModeResistanceStatistics
	DisplayModeTemperatureStatistics
	DisplayModeResistanceRatioReference
	DisplayModeTemperatureDifference
	DisplayModeResistanceRatio
)

var displayModeNames = [...]string{
	"Unknown",
	"Resistance",
	"Temperature",
	"ResistanceStatistics",
	"TemperatureStatistics",
	"ResistanceRatioReference",
	"TemperatureDifference",
	"ResistanceRatio",
}

// String fulfils the Stringer interface
func (m DisplayMode) String() string {
	if m < 0 || int(m) >= len(displayModeNames) {
		return fmt.Sprintf("DisplayMode(%d)", int(m))
	}
	return displayModeNames[m]
}

// ShtStatus denotes the self heating status (SHT) of the instrument
type ShtStatus int

const (

	// ShtUnknown is active as long as the status could not be determined
	ShtUnknown ShtStatus = iota

	// ShtOn denotes reduced measurement current
	ShtOn

	// ShtOff denotes standard measurement current
	ShtOff
)

// String fulfils the Stringer interface
func (s ShtStatus) String() string {
	switch s {
	case ShtOn:
		return "On"
	case ShtOff:
		return "Off"
	default:
		return "Unknown"
	}
}

// Channel denotes the state of one of the two sensor channels. Values are nil
// unless the most recent successful parse found them marked valid
type Channel struct {
	ID   string
	Type SensorType

	Temperature *float64 // °C
	TMean       *float64 // °C
	TStdDev     *float64 // °C
	Resistance  *float64 // Ω
	RMean       *float64 // Ω
	RStdDev     *float64 // Ω
}

// NewChannel instantiates an invalidated channel
func NewChannel() Channel {
	var c Channel
	c.Invalidate()
	return c
}

// Invalidate resets all properties of the channel to their initial state
func (c *Channel) Invalidate() {
	*c = Channel{
		ID:   Unknown,
		Type: SensorTypeUnknown,
	}
}

// String fulfils the Stringer interface
func (c Channel) String() string {
	return fmt.Sprintf("[Sensor: ID=%s, Type=%s]", c.ID, c.Type)
}

// Metadata denotes information about the instrument itself
type Metadata struct {
	Manufacturer    string
	SerialNumber    string
	Type            string
	FirmwareVersion string
	Port            string

	// Only available for some transports, informational
	MAC  string
	Date string
	Time string
}

func newMetadata(port string) Metadata {
	m := Metadata{
		Manufacturer: Manufacturer,
		Port:         port,
	}
	m.Invalidate()
	return m
}

// Invalidate resets all properties obtained from the instrument
func (m *Metadata) Invalidate() {
	m.SerialNumber = Unknown
	m.Type = Unknown
	m.FirmwareVersion = Unknown
	m.MAC = Unknown
	m.Date = Unknown
	m.Time = Unknown
}

// Snapshot denotes a consistent copy of the instrument state at a certain point in time
type Snapshot struct {
	Channel1 Channel
	Channel2 Channel
	Metadata Metadata

	InitTimeStamp        time.Time
	MeasurementTimeStamp time.Time

	NumberOfSamples int
	DisplayMode     DisplayMode
	SHT             ShtStatus
	Valid           bool
}

// Elapsed returns the time between driver initialization and the measurement
func (s *Snapshot) Elapsed() time.Duration {
	return s.MeasurementTimeStamp.Sub(s.InitTimeStamp)
}

// String fulfils the Stringer interface
func (s *Snapshot) String() string {
	return fmt.Sprintf("T1: %s°C, T2: %s°C (valid: %v)", formatValue(s.Channel1.Temperature), formatValue(s.Channel2.Temperature), s.Valid)
}

func formatValue(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}
