package antonpaar

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDevice struct {
	sync.Mutex
	status   int
	body     string
	requests int
}

func newMockDevice(t *testing.T, body string) (*mockDevice, *httptest.Server) {
	d := &mockDevice{status: http.StatusOK, body: body}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.Lock()
		defer d.Unlock()

		d.requests++
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, xmlPath, r.URL.Path)

		w.WriteHeader(d.status)
		_, _ = w.Write([]byte(d.body))
	}))
	t.Cleanup(srv.Close)

	return d, srv
}

func (d *mockDevice) Set(status int, body string) {
	d.Lock()
	d.status, d.body = status, body
	d.Unlock()
}

func readFixture(t *testing.T) string {
	data, err := os.ReadFile("testdata/devicedata.xml")
	require.Nil(t, err)
	return string(data)
}

func hostOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestNewXMLInvalidHost(t *testing.T) {
	for _, host := range []string{"", "  ", "http://10.10.10.150", "10.10.10.150/cgi"} {
		_, err := NewXML(host, WithoutInitialUpdate())
		assert.NotNil(t, err, "host `%s`", host)
	}

	x, err := NewXML(" 10.10.10.150 ", WithoutInitialUpdate())
	require.Nil(t, err)
	assert.Equal(t, "http://10.10.10.150/cgi/xml", x.Metadata().Port)
	assert.False(t, x.Valid())
}

func TestXMLFullRefresh(t *testing.T) {
	_, srv := newMockDevice(t, readFixture(t))

	x, err := NewXML(hostOf(srv))
	require.Nil(t, err)

	s := x.Snapshot()
	assert.True(t, s.Valid)
	assert.Equal(t, 10, s.NumberOfSamples)
	assert.Equal(t, DisplayModeTemperatureStatistics, s.DisplayMode)

	assert.Equal(t, Metadata{
		Manufacturer:    Manufacturer,
		SerialNumber:    "81234567",
		Type:            "MKT 50",
		FirmwareVersion: "V2.04",
		Port:            srv.URL + xmlPath,
		MAC:             "00:1B:2C:3D:4E:5F",
		Date:            "2020-01-01",
		Time:            "12:00:00",
	}, s.Metadata)

	ch1 := s.Channel1
	assert.Equal(t, "4711", ch1.ID)
	assert.Equal(t, SensorTypeITS90, ch1.Type)
	require.NotNil(t, ch1.Temperature)
	assert.Equal(t, 23.45678, *ch1.Temperature)
	require.NotNil(t, ch1.Resistance)
	assert.Equal(t, 27.654321, *ch1.Resistance)
	require.NotNil(t, ch1.TMean)
	assert.Equal(t, 23.45612, *ch1.TMean)
	require.NotNil(t, ch1.TStdDev)
	assert.Equal(t, 0.00021, *ch1.TStdDev)

	// Statistics given in ohm belong to the resistance
	require.NotNil(t, ch1.RMean)
	assert.Equal(t, 27.65401, *ch1.RMean)
	require.NotNil(t, ch1.RStdDev)
	assert.Equal(t, 0.00009, *ch1.RStdDev)

	ch2 := s.Channel2
	assert.Equal(t, "0815", ch2.ID)
	assert.Equal(t, SensorTypeIEC751, ch2.Type)
	require.NotNil(t, ch2.Temperature)
	assert.Equal(t, -12.5, *ch2.Temperature)
	require.NotNil(t, ch2.Resistance)
	assert.Equal(t, 95.123, *ch2.Resistance)

	// Values not marked as valid remain absent
	assert.Nil(t, ch2.TMean)
	assert.Nil(t, ch2.TStdDev)
	assert.Nil(t, ch2.RMean)
	assert.Nil(t, ch2.RStdDev)
}

func TestXMLRefreshFailure(t *testing.T) {
	dev, srv := newMockDevice(t, readFixture(t))
	clock := newMockClock(0)

	x, err := NewXML(hostOf(srv), withClock(clock.Now))
	require.Nil(t, err)
	before := x.Snapshot()
	require.True(t, before.Valid)

	for _, c := range []struct {
		status int
		body   string
	}{
		{http.StatusInternalServerError, ""},
		{http.StatusOK, ""},
		{http.StatusOK, "<devicedata><results>"},
		{http.StatusOK, "<something>else</something>"},
	} {
		dev.Set(c.status, c.body)
		clock.Advance(MinUpdateInterval)

		assert.False(t, x.Refresh(false), "status %d, body `%s`", c.status, c.body)
		after := x.Snapshot()
		assert.False(t, after.Valid)

		after.Valid = true
		assert.Equal(t, before, after)
	}

	dev.Set(http.StatusOK, readFixture(t))
	clock.Advance(MinUpdateInterval)
	assert.True(t, x.Refresh(false))
	assert.True(t, x.Valid())
}

func TestXMLUnreachable(t *testing.T) {
	_, srv := newMockDevice(t, readFixture(t))
	host := hostOf(srv)
	srv.Close()

	x, err := NewXML(host, WithHTTPClient(&http.Client{Timeout: time.Second}))
	require.Nil(t, err)
	assert.False(t, x.Valid())
	assert.Equal(t, Unknown, x.Metadata().SerialNumber)
	assert.Nil(t, x.Temperature1())
}

func TestXMLValuesOnlyRefresh(t *testing.T) {
	dev, srv := newMockDevice(t, readFixture(t))
	clock := newMockClock(0)

	x, err := NewXML(hostOf(srv), withClock(clock.Now))
	require.Nil(t, err)

	dev.Set(http.StatusOK, strings.Replace(readFixture(t), "81234567", "99999999", 1))
	clock.Advance(MinUpdateInterval)
	require.True(t, x.RefreshSync(false))
	assert.Equal(t, "81234567", x.Metadata().SerialNumber)

	clock.Advance(MinUpdateInterval)
	require.True(t, x.RefreshSync(true))
	assert.Equal(t, "99999999", x.Metadata().SerialNumber)
}

func TestXMLSettings(t *testing.T) {
	for _, c := range []struct {
		settings    string
		samples     int
		displayMode DisplayMode
		ch1         Channel
	}{
		{"", 1, DisplayModeUnknown, NewChannel()},
		{`<setting name="Samples">many</setting>`, 1, DisplayModeUnknown, NewChannel()},
		{`<setting name="Samples"> 25 </setting><setting name="Displaymode">R1/R2, R2/R1</setting>`, 25, DisplayModeResistanceRatio, NewChannel()},
		{`<setting name="Displaymode">Temperatur Stat</setting>`, 1, DisplayModeUnknown, NewChannel()},
		{`<setting name="Sensor1" type="Polynom">S-1</setting>`, 1, DisplayModeUnknown, Channel{ID: "S-1", Type: SensorTypePolynomial4}},
		{`<setting name="Sensor1">S-2</setting>`, 1, DisplayModeUnknown, Channel{ID: "S-2", Type: SensorTypeUnknown}},
	} {
		doc, err := decodeXML([]byte("<devicedata><settings>" + c.settings + "</settings></devicedata>"))
		require.Nil(t, err)

		s := Snapshot{Channel1: NewChannel(), Channel2: NewChannel()}
		parseXMLSettings(doc, &s)
		assert.Equal(t, c.samples, s.NumberOfSamples, c.settings)
		assert.Equal(t, c.displayMode, s.DisplayMode, c.settings)
		assert.Equal(t, c.ch1, s.Channel1, c.settings)
		assert.Equal(t, NewChannel(), s.Channel2, c.settings)
	}
}

func TestXMLChannelValues(t *testing.T) {
	doc, err := decodeXML([]byte(`<devicedata><results>
		<channel number="2">
			<value name="Temperature" status="valid">abc</value>
			<value name="Resistance" unit="ohm" status="valid">100.5-</value>
			<value name="Mean" unit="ohm" status="valid">1.0E2</value>
			<value name="S.Dev" unit="ohm" status="overrange">0.1</value>
			<value name="Unrelated" status="valid">42</value>
		</channel>
		<channel number="3">
			<value name="Temperature" status="valid">1</value>
		</channel>
	</results></devicedata>`))
	require.Nil(t, err)

	ch1, ch2 := NewChannel(), NewChannel()
	parseXMLResults(doc, &ch1, &ch2)
	assert.Equal(t, NewChannel(), ch1)

	// Malformed numbers are treated as absent, not as zero
	assert.Nil(t, ch2.Temperature)
	require.NotNil(t, ch2.Resistance)
	assert.Equal(t, -100.5, *ch2.Resistance)
	require.NotNil(t, ch2.RMean)
	assert.Equal(t, 100.0, *ch2.RMean)
	assert.Nil(t, ch2.TMean)
	assert.Nil(t, ch2.RStdDev)
}

func TestXMLDeviceMissingAttributes(t *testing.T) {
	doc, err := decodeXML([]byte(`<devicedata><device name="MKT 10" serialnumber="  "/></devicedata>`))
	require.Nil(t, err)

	m := newMetadata("port")
	m.SerialNumber = "stale"
	parseXMLDevice(doc, &m)

	assert.Equal(t, "MKT 10", m.Type)
	assert.Equal(t, Unknown, m.SerialNumber)
	assert.Equal(t, Unknown, m.FirmwareVersion)
	assert.Equal(t, "port", m.Port)
	assert.Equal(t, Manufacturer, m.Manufacturer)
}

func TestXMLEncodings(t *testing.T) {
	utf8Doc := `<devicedata><device name="MKT 50 München"/><results><channel number="1">` +
		`<value name="Temperature" unit="°C" status="valid">23.5</value>` +
		`<value name="Mean" unit="°C" status="valid">23.4</value>` +
		`</channel></results></devicedata>`
	latin1Doc := strings.NewReplacer("ü", "\xfc", "°", "\xb0").Replace(utf8Doc)

	for _, doc := range []string{
		`<?xml version="1.0" encoding="ISO-8859-1"?>` + latin1Doc,
		`<?xml version="1.0" encoding="windows-1252"?>` + latin1Doc,
		latin1Doc,
		`<?xml version="1.0" encoding="UTF-8"?>` + latin1Doc,
		`<?xml version="1.0" encoding="UTF-8"?>` + utf8Doc,
	} {
		parsed, err := decodeXML([]byte(doc))
		require.Nil(t, err, doc)

		require.Len(t, parsed.Devices, 1, doc)
		assert.Equal(t, "MKT 50 München", parsed.Devices[0].Name, doc)
		require.Len(t, parsed.Channels, 1, doc)
		require.Len(t, parsed.Channels[0].Values, 2, doc)
		assert.Equal(t, "°C", parsed.Channels[0].Values[0].Unit, doc)

		ch1, ch2 := NewChannel(), NewChannel()
		parseXMLResults(parsed, &ch1, &ch2)
		require.NotNil(t, ch1.Temperature, doc)
		assert.Equal(t, 23.5, *ch1.Temperature, doc)
		require.NotNil(t, ch1.TMean, doc)
		assert.Equal(t, 23.4, *ch1.TMean, doc)
	}

	// Unknown encodings are still rejected
	_, err := decodeXML([]byte(`<?xml version="1.0" encoding="no-such-charset"?><devicedata/>`))
	assert.NotNil(t, err)
}

func TestXMLLatin1Refresh(t *testing.T) {
	fixture := strings.Replace(readFixture(t), `encoding="UTF-8"`, `encoding="ISO-8859-1"`, 1)
	fixture = strings.Replace(fixture, `name=" MKT 50 "`, "name=\"MKT 50 \xb0C\"", 1)
	_, srv := newMockDevice(t, fixture)

	x, err := NewXML(hostOf(srv))
	require.Nil(t, err)
	assert.True(t, x.Valid())
	assert.Equal(t, "MKT 50 °C", x.Metadata().Type)
	assert.Equal(t, 10, x.NumberOfSamples())
	require.NotNil(t, x.Temperature1())
	assert.Equal(t, 23.45678, *x.Temperature1())
}

func TestXMLResponseSizeLimit(t *testing.T) {
	dev, srv := newMockDevice(t, readFixture(t))
	clock := newMockClock(0)

	x, err := NewXML(hostOf(srv), withClock(clock.Now))
	require.Nil(t, err)
	require.True(t, x.Valid())

	// Trailing whitespace keeps the document well-formed, only its size is at fault
	dev.Set(http.StatusOK, readFixture(t)+strings.Repeat(" ", maxResponseSize))
	clock.Advance(MinUpdateInterval)
	assert.False(t, x.Refresh(false))
	assert.False(t, x.Valid())

	dev.Set(http.StatusOK, readFixture(t))
	clock.Advance(MinUpdateInterval)
	assert.True(t, x.Refresh(false))
}
