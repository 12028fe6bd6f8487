package antonpaar

import (
	"math"
	"strconv"
	"strings"
)

// Evaluated in order, first substring match wins
var sensorTypeTable = []struct {
	token string
	t     SensorType
}{
	{"IEC751", SensorTypeIEC751},
	{"ITS-90", SensorTypeITS90},
	{"Polyn", SensorTypePolynomial4},
	{"ITS90A", SensorTypeITS90A},
}

// Exact matches only. Firmware V2.04 reports malformed strings for some modes,
// those end up as DisplayModeUnknown
var displayModeTable = map[string]DisplayMode{
	"Resistance":        DisplayModeResistance,
	"Temperature":       DisplayModeTemperature,
	"Resistance Stat.":  DisplayModeResistanceStatistics,
	"Temperature Stat.": DisplayModeTemperatureStatistics,
	"R1/RR, R2/RR":      DisplayModeResistanceRatioReference,
	"R1/R2, R2/R1":      DisplayModeResistanceRatio,
}

// ParseSensorType interprets a sensor description reported by the instrument
func ParseSensorType(s string) SensorType {
	for _, entry := range sensorTypeTable {
		if strings.Contains(s, entry.token) {
			return entry.t
		}
	}
	return SensorTypeUnknown
}

// ParseDisplayMode interprets a display mode description reported by the instrument
func ParseDisplayMode(s string) DisplayMode {
	if m, ok := displayModeTable[strings.TrimSpace(s)]; ok {
		return m
	}
	return DisplayModeUnknown
}

// parseNumber parses a decimal number independent of any locale. A trailing sign
// (e.g. `12.5-`) is accepted as reported by some firmware versions
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if len(s) > 1 {
		if last := s[len(s)-1]; (last == '-' || last == '+') && s[0] != '-' && s[0] != '+' {
			s = string(last) + strings.TrimSpace(s[:len(s)-1])
		}
	}
	if strings.ContainsAny(s, "xX_") {
		return 0, false
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// numberOrNil returns a pointer to the parsed value, or nil if s is not a number
func numberOrNil(s string) *float64 {
	v, ok := parseNumber(s)
	if !ok {
		return nil
	}
	return &v
}
