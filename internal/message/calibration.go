package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrPayloadSize is returned when a payload has the wrong length for its type.
var ErrPayloadSize = errors.New("payload size mismatch")

// calibrationSettingsSize is nine little-endian float32 values.
const calibrationSettingsSize = 9 * 4

// CalibrationSettings is the sensor calibration reported by the device at
// the end of the connect procedure.
type CalibrationSettings struct {
	GyroOffset    [3]float32 `json:"gyroOffset"`
	AccelScale    [3]float32 `json:"accelScale"`
	BoardRotation [3]float32 `json:"boardRotation"`
}

// IsValid reports whether every value is finite and accelerometer scales
// are positive.
func (c CalibrationSettings) IsValid() bool {
	for i := 0; i < 3; i++ {
		if !finite(c.GyroOffset[i]) || !finite(c.AccelScale[i]) || !finite(c.BoardRotation[i]) {
			return false
		}
		if c.AccelScale[i] <= 0 {
			return false
		}
		if math.Abs(float64(c.BoardRotation[i])) > math.Pi {
			return false
		}
	}
	return true
}

// MarshalBinary encodes the settings in device layout.
func (c CalibrationSettings) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, calibrationSettingsSize)
	for _, group := range [][3]float32{c.GyroOffset, c.AccelScale, c.BoardRotation} {
		for _, v := range group {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return buf, nil
}

// DecodeCalibrationSettings parses a CALIBRATION_SETTINGS_DATA payload.
func DecodeCalibrationSettings(payload []byte) (CalibrationSettings, error) {
	var c CalibrationSettings
	if len(payload) != calibrationSettingsSize {
		return c, fmt.Errorf("calibration settings: %w: got %d, want %d", ErrPayloadSize, len(payload), calibrationSettingsSize)
	}
	groups := []*[3]float32{&c.GyroOffset, &c.AccelScale, &c.BoardRotation}
	off := 0
	for _, g := range groups {
		for i := range g {
			g[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[off:]))
			off += 4
		}
	}
	return c, nil
}

// Pulse width bounds for a radio channel, in microseconds.
const (
	MinPulseWidth = 800
	MaxPulseWidth = 2200
	MaxChannels   = 16
)

// ChannelRange is the measured range of one radio channel.
type ChannelRange struct {
	Min    uint16 `json:"min"`
	Center uint16 `json:"center"`
	Max    uint16 `json:"max"`
}

// RadioCalibration holds the channel ranges measured by the device during
// radio calibration.
type RadioCalibration struct {
	Channels []ChannelRange `json:"channels"`
}

// IsValid reports whether the channel count is within bounds and every
// channel is ordered Min < Center < Max inside the pulse width limits.
func (r RadioCalibration) IsValid() bool {
	if len(r.Channels) == 0 || len(r.Channels) > MaxChannels {
		return false
	}
	for _, ch := range r.Channels {
		if ch.Min < MinPulseWidth || ch.Max > MaxPulseWidth {
			return false
		}
		if !(ch.Min < ch.Center && ch.Center < ch.Max) {
			return false
		}
	}
	return true
}

// MarshalBinary encodes the calibration as a channel count followed by
// Min, Center, Max little-endian uint16 triples.
func (r RadioCalibration) MarshalBinary() ([]byte, error) {
	if len(r.Channels) > MaxChannels {
		return nil, fmt.Errorf("radio calibration: %d channels exceeds %d", len(r.Channels), MaxChannels)
	}
	buf := make([]byte, 1, 1+6*len(r.Channels))
	buf[0] = byte(len(r.Channels))
	for _, ch := range r.Channels {
		buf = binary.LittleEndian.AppendUint16(buf, ch.Min)
		buf = binary.LittleEndian.AppendUint16(buf, ch.Center)
		buf = binary.LittleEndian.AppendUint16(buf, ch.Max)
	}
	return buf, nil
}

// DecodeRadioCalibration parses a RADIO_SETTINGS_DATA payload.
func DecodeRadioCalibration(payload []byte) (RadioCalibration, error) {
	var r RadioCalibration
	if len(payload) < 1 {
		return r, fmt.Errorf("radio calibration: %w: empty payload", ErrPayloadSize)
	}
	n := int(payload[0])
	if len(payload) != 1+6*n {
		return r, fmt.Errorf("radio calibration: %w: got %d, want %d", ErrPayloadSize, len(payload), 1+6*n)
	}
	r.Channels = make([]ChannelRange, n)
	for i := 0; i < n; i++ {
		off := 1 + 6*i
		r.Channels[i] = ChannelRange{
			Min:    binary.LittleEndian.Uint16(payload[off:]),
			Center: binary.LittleEndian.Uint16(payload[off+2:]),
			Max:    binary.LittleEndian.Uint16(payload[off+4:]),
		}
	}
	return r, nil
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
