package sink

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fako1024/antonpaar"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deviceData = `<devicedata>
  <device name="MKT 50" serialnumber="81234567" version="V2.04"/>
  <settings>
    <setting name="Samples">10</setting>
    <setting name="Sensor1" type="ITS-90">4711</setting>
    <setting name="Sensor2" type="IEC751">0815</setting>
  </settings>
  <results>
    <channel number="1">
      <value name="Temperature" unit="C" status="valid">23.45678</value>
      <value name="Mean" unit="C" status="valid">23.45612</value>
      <value name="S.Dev" unit="C" status="valid">0.00021</value>
    </channel>
    <channel number="2">
      <value name="Temperature" unit="C" status="valid">-12.5</value>
      <value name="Mean" unit="C" status="valid">-12.49</value>
    </channel>
  </results>
</devicedata>`

func newTestInstrument(t *testing.T, body string) *antonpaar.XML {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	x, err := antonpaar.NewXML(strings.TrimPrefix(srv.URL, "http://"))
	require.Nil(t, err)
	require.True(t, x.Valid())

	return x
}

func ptr(v float64) *float64 {
	return &v
}

func TestFormatLine(t *testing.T) {
	start := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
	s := antonpaar.Snapshot{
		Channel1:             antonpaar.Channel{TMean: ptr(23.456123), TStdDev: ptr(0.000214)},
		Channel2:             antonpaar.Channel{TMean: ptr(-12.5)},
		InitTimeStamp:        start,
		MeasurementTimeStamp: start.Add(1234567 * time.Millisecond),
	}

	assert.Equal(t, "  1234.6    23.45612 ± 0.00021    -12.50000 ± -", FormatLine(s))
}

func TestLogFile(t *testing.T) {
	x := newTestInstrument(t, deviceData)
	path := filepath.Join(t.TempDir(), "log.txt")

	var echo bytes.Buffer
	lf := NewLogFile(path, &echo, nil)
	require.Nil(t, lf.WriteHeader(x.Instrument))

	lf.Handle(x.Instrument)
	lf.Handle(x.Instrument)

	data, err := os.ReadFile(path)
	require.Nil(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 11)
	assert.Equal(t, "Manufacturer:    Anton Paar", lines[0])
	assert.Equal(t, "Instrument Type: MKT 50", lines[1])
	assert.Equal(t, "# Samples:       10", lines[5])
	assert.Equal(t, "Channel 1:       ITS90 4711", lines[6])
	assert.Equal(t, headerTerminator, lines[8])
	assert.Contains(t, lines[9], "23.45612 ± 0.00021")
	assert.Contains(t, lines[10], "-12.49000 ± -")
	assert.Equal(t, lines[9]+"\n"+lines[10]+"\n", echo.String())

	// The header replaces any previous content
	require.Nil(t, lf.WriteHeader(x.Instrument))
	data, err = os.ReadFile(path)
	require.Nil(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 9)
}

func TestLogFileSkipsMissingStatistics(t *testing.T) {
	x := newTestInstrument(t, strings.Replace(deviceData, `name="Mean" unit="C" status="valid">23.45612`, `name="Mean" unit="C" status="invalid">23.45612`, 1))
	path := filepath.Join(t.TempDir(), "log.txt")

	lf := NewLogFile(path, nil, nil)
	lf.Handle(x.Instrument)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

type mockConn struct {
	sync.Mutex
	subjects []string
	messages [][]byte
	err      error
}

func (c *mockConn) Publish(subject string, data []byte) error {
	c.Lock()
	defer c.Unlock()

	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.messages = append(c.messages, data)
	return nil
}

func TestPublisher(t *testing.T) {
	x := newTestInstrument(t, deviceData)
	conn := &mockConn{}
	p := NewPublisher(conn, "", nil)

	p.Handle(x.Instrument)
	p.Handle(x.Instrument)
	require.Len(t, conn.messages, 2)
	assert.Equal(t, []string{DefaultSubject, DefaultSubject}, conn.subjects)

	var r1, r2 Reading
	require.Nil(t, json.Unmarshal(conn.messages[0], &r1))
	require.Nil(t, json.Unmarshal(conn.messages[1], &r2))
	assert.NotEqual(t, r1.ID, r2.ID)

	assert.Equal(t, "81234567", r1.SerialNumber)
	assert.Equal(t, 10, r1.Samples)
	assert.Equal(t, "4711", r1.Channels[0].ID)
	assert.Equal(t, "ITS90", r1.Channels[0].Type)
	require.NotNil(t, r1.Channels[0].Temperature)
	assert.Equal(t, 23.45678, *r1.Channels[0].Temperature)
	assert.Nil(t, r1.Channels[0].Resistance)
	require.NotNil(t, r1.Channels[1].TMean)
	assert.Equal(t, -12.49, *r1.Channels[1].TMean)
	assert.Nil(t, r1.Channels[1].TStdDev)

	assert.NotContains(t, string(conn.messages[0]), "resistance")
}

func TestPublisherError(t *testing.T) {
	conn := &mockConn{err: errors.New("connection closed")}
	p := NewPublisher(conn, "lab.readings", nil)

	err := p.Publish(NewReading(antonpaar.Snapshot{}))
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "lab.readings")
	assert.Contains(t, err.Error(), "connection closed")
}
