package antonpaar

import (
	"bytes"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"
)

const (
	xmlPath = "/cgi/xml"

	// maxResponseSize limits the size of a response accepted from the instrument
	maxResponseSize = 1 << 20
)

// XML denotes an instrument connected via its HTTP / XML interface
type XML struct {
	*Instrument
}

// NewXML instantiates a new instrument reachable at host (name or address, optionally
// including a port), executing functional options, if any. Unless disabled, a full
// update is performed (its failure is not fatal, cf. Valid())
func NewXML(host string, options ...Option) (*XML, error) {
	host = strings.TrimSpace(host)
	if host == "" || strings.ContainsAny(host, "/?#") {
		return nil, errors.Errorf("invalid instrument host `%s`", host)
	}

	uri := (&url.URL{Scheme: "http", Host: host, Path: xmlPath}).String()
	cfg := newConfig(options)

	x := &XML{
		Instrument: newInstrument(&xmlBackend{
			uri:    uri,
			client: cfg.httpClient,
		}, uri, cfg),
	}
	x.initialize(cfg)

	return x, nil
}

////////////////////////////////////////////////////////////////////////////////

type xmlDeviceData struct {
	XMLName  xml.Name     `xml:"devicedata"`
	Devices  []xmlDevice  `xml:"device"`
	Settings []xmlSetting `xml:"settings>setting"`
	Channels []xmlChannel `xml:"results>channel"`
}

type xmlDevice struct {
	SerialNumber string `xml:"serialnumber,attr"`
	Name         string `xml:"name,attr"`
	Version      string `xml:"version,attr"`
	MAC          string `xml:"MAC,attr"`
	Date         string `xml:"date,attr"`
	Time         string `xml:"time,attr"`
}

type xmlSetting struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type xmlChannel struct {
	Number string     `xml:"number,attr"`
	Values []xmlValue `xml:",any"`
}

type xmlValue struct {
	Name   string `xml:"name,attr"`
	Unit   string `xml:"unit,attr"`
	Status string `xml:"status,attr"`
	Value  string `xml:",chardata"`
}

type xmlBackend struct {
	uri    string
	client *http.Client
}

func (b *xmlBackend) update(s *Snapshot, parseAll bool) error {
	doc, err := b.fetch()
	if err != nil {
		s.Valid = false
		return err
	}
	s.Valid = true

	if parseAll {
		parseXMLDevice(doc, &s.Metadata)
	}

	// Both channels are invalidated before either of them is populated
	s.Channel1.Invalidate()
	s.Channel2.Invalidate()
	parseXMLSettings(doc, s)
	parseXMLResults(doc, &s.Channel1, &s.Channel2)

	return nil
}

func (b *xmlBackend) close() error {
	b.client.CloseIdleConnections()
	return nil
}

func (b *xmlBackend) fetch() (*xmlDeviceData, error) {
	resp, err := b.client.Get(b.uri)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query `%s`", b.uri)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("unexpected status code %d from `%s`", resp.StatusCode, b.uri)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read response from `%s`", b.uri)
	}
	if len(body) > maxResponseSize {
		return nil, errors.Errorf("response from `%s` exceeds %d bytes", b.uri, maxResponseSize)
	}

	return decodeXML(body)
}

func decodeXML(data []byte) (*xmlDeviceData, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("empty XML response")
	}

	doc, err := unmarshalXML(data)

	// Some firmware versions emit Latin-1 (e.g. the degree sign) without declaring it
	if err != nil && !utf8.Valid(data) {
		if latin1, terr := charmap.Windows1252.NewDecoder().Bytes(data); terr == nil {
			doc, err = unmarshalXML(latin1)
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode XML response")
	}

	return doc, nil
}

// unmarshalXML decodes a document, honoring the encoding named in its declaration
func unmarshalXML(data []byte) (*xmlDeviceData, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel

	var doc xmlDeviceData
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	return &doc, nil
}

// parseXMLDevice extracts the instrument details, attributes not present
// remain unknown
func parseXMLDevice(doc *xmlDeviceData, m *Metadata) {
	m.Invalidate()
	for _, dev := range doc.Devices {
		setIfPresent(&m.SerialNumber, dev.SerialNumber)
		setIfPresent(&m.Type, dev.Name)
		setIfPresent(&m.FirmwareVersion, dev.Version)
		setIfPresent(&m.MAC, dev.MAC)
		setIfPresent(&m.Date, dev.Date)
		setIfPresent(&m.Time, dev.Time)
	}
}

// parseXMLSettings extracts the number of samples, the sensor IDs / types and the
// display mode
func parseXMLSettings(doc *xmlDeviceData, s *Snapshot) {
	s.NumberOfSamples = 1 // if not in statistics mode
	for _, setting := range doc.Settings {
		switch strings.TrimSpace(setting.Name) {
		case "Samples":
			if n, err := strconv.Atoi(strings.TrimSpace(setting.Value)); err == nil {
				s.NumberOfSamples = n
			}
		case "Sensor1":
			parseXMLSensor(setting, &s.Channel1)
		case "Sensor2":
			parseXMLSensor(setting, &s.Channel2)
		case "Displaymode":
			s.DisplayMode = ParseDisplayMode(setting.Value)
		}
	}
}

func parseXMLSensor(setting xmlSetting, ch *Channel) {
	ch.ID = strings.TrimSpace(setting.Value)
	if t := strings.TrimSpace(setting.Type); t != "" {
		ch.Type = ParseSensorType(t)
	}
}

func parseXMLResults(doc *xmlDeviceData, ch1, ch2 *Channel) {
	for _, channel := range doc.Channels {
		switch strings.TrimSpace(channel.Number) {
		case "1":
			parseXMLChannel(channel.Values, ch1)
		case "2":
			parseXMLChannel(channel.Values, ch2)
		}
	}
}

// parseXMLChannel assigns all values marked as valid to the channel. Values that
// cannot be parsed are treated as absent
func parseXMLChannel(values []xmlValue, ch *Channel) {
	for _, v := range values {
		if strings.TrimSpace(v.Status) != "valid" {
			continue
		}

		value := numberOrNil(v.Value)
		ohm := strings.TrimSpace(v.Unit) == "ohm"
		switch strings.TrimSpace(v.Name) {
		case "Temperature":
			ch.Temperature = value
		case "Resistance":
			ch.Resistance = value
		case "Mean":
			if ohm {
				ch.RMean = value
			} else {
				ch.TMean = value
			}
		case "S.Dev":
			if ohm {
				ch.RStdDev = value
			} else {
				ch.TStdDev = value
			}
		}
	}
}

func setIfPresent(field *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*field = value
	}
}
