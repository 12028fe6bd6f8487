package sink

import (
	"encoding/json"
	"time"

	"github.com/fako1024/antonpaar"
	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// DefaultSubject denotes the default subject readings are published on
const DefaultSubject = "antonpaar.readings"

// ChannelReading denotes the values of a single channel
type ChannelReading struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Temperature *float64 `json:"temperature,omitempty"`
	TMean       *float64 `json:"tMean,omitempty"`
	TStdDev     *float64 `json:"tStdDev,omitempty"`
	Resistance  *float64 `json:"resistance,omitempty"`
	RMean       *float64 `json:"rMean,omitempty"`
	RStdDev     *float64 `json:"rStdDev,omitempty"`
}

// Reading denotes a single measurement as published on the message bus
type Reading struct {
	ID           string            `json:"id"`
	SerialNumber string            `json:"serialNumber"`
	Port         string            `json:"port"`
	TimeStamp    time.Time         `json:"timestamp"`
	Elapsed      float64           `json:"elapsed"`
	Samples      int               `json:"samples"`
	DisplayMode  string            `json:"displayMode"`
	SHT          string            `json:"sht"`
	Channels     [2]ChannelReading `json:"channels"`
}

// NewReading converts an instrument snapshot to a reading with a unique ID
func NewReading(s antonpaar.Snapshot) Reading {
	return Reading{
		ID:           uuid.New().String(),
		SerialNumber: s.Metadata.SerialNumber,
		Port:         s.Metadata.Port,
		TimeStamp:    s.MeasurementTimeStamp.UTC(),
		Elapsed:      s.Elapsed().Seconds(),
		Samples:      s.NumberOfSamples,
		DisplayMode:  s.DisplayMode.String(),
		SHT:          s.SHT.String(),
		Channels:     [2]ChannelReading{newChannelReading(s.Channel1), newChannelReading(s.Channel2)},
	}
}

func newChannelReading(c antonpaar.Channel) ChannelReading {
	return ChannelReading{
		ID:          c.ID,
		Type:        c.Type.String(),
		Temperature: c.Temperature,
		TMean:       c.TMean,
		TStdDev:     c.TStdDev,
		Resistance:  c.Resistance,
		RMean:       c.RMean,
		RStdDev:     c.RStdDev,
	}
}

// Conn denotes the part of a NATS connection used for publishing
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher publishes each reading of an instrument to a NATS subject
type Publisher struct {
	conn    Conn
	subject string
	logger  antonpaar.Logger
}

// ConnectNATS establishes a connection to a NATS server
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("antonpaar"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to NATS at `%s`", url)
	}
	return nc, nil
}

// NewPublisher instantiates a new publisher on the given connection
func NewPublisher(conn Conn, subject string, logger antonpaar.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = &antonpaar.NullLogger{}
	}
	return &Publisher{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}
}

// Publish sends a single reading
func (p *Publisher) Publish(r Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "failed to encode reading")
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return errors.Wrapf(err, "failed to publish reading on `%s`", p.subject)
	}
	return nil
}

// Handle publishes the current state of the instrument, it can be registered as
// update handler
func (p *Publisher) Handle(inst *antonpaar.Instrument) {
	if err := p.Publish(NewReading(inst.Snapshot())); err != nil {
		p.logger.Warnf("%s", err)
	}
}
