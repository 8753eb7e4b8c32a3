package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/krystian-wojtas/skydive/internal/message"
)

// ErrBusy is returned by Handle when the vehicle queue is full.
var ErrBusy = errors.New("BUSY")

// ErrClosed is returned by Handle after Close.
var ErrClosed = errors.New("UNAVAILABLE")

const inboxSize = 64

// Scenario selects vehicle behavior. The zero value is a healthy vehicle.
type Scenario struct {
	SilentStart      bool          `yaml:"silentStart"`      // Never acknowledge START_CMD
	NonStaticReports int           `yaml:"nonStaticReports"` // NON_STATIC reports before READY
	CorruptSettings  int           `yaml:"corruptSettings"`  // Invalid settings payloads before a valid one
	CorruptRadio     int           `yaml:"corruptRadio"`     // Invalid radio payloads before a valid one
	DegradedChecks   int           `yaml:"degradedChecks"`   // INVALID link reports before VALID
	LinkDelay        time.Duration `yaml:"linkDelay"`        // Delay before each link report
	Channels         int           `yaml:"channels"`         // Radio channels reported, default 8
}

// Stats is a snapshot of what the vehicle has seen.
type Stats struct {
	Connected     bool
	Calibrated    bool
	Received      uint64
	ControlFrames uint64
	LastControl   message.ControlData
}

// Sender delivers vehicle replies to the ground side.
type Sender interface {
	Send(msg message.Message) error
}

// Vehicle processes ground messages in FIFO order on a single worker.
type Vehicle struct {
	scenario Scenario
	out      Sender
	log      *logrus.Entry

	inbox  chan message.Message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Worker only
	corruptSettings int
	corruptRadio    int
	degradedChecks  int

	mu    sync.Mutex
	stats Stats
}

// NewVehicle creates a vehicle replying through out and starts its worker.
func NewVehicle(s Scenario, out Sender, log *logrus.Entry) *Vehicle {
	if s.Channels <= 0 {
		s.Channels = 8
	}
	if s.Channels > message.MaxChannels {
		s.Channels = message.MaxChannels
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	ctx, cancel := context.WithCancel(context.Background())
	v := &Vehicle{
		scenario: s,
		out:      out,
		log:      log.WithField("component", "vehicle"),
		inbox:    make(chan message.Message, inboxSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	v.wg.Add(1)
	go v.worker()
	return v
}

// Handle queues a ground message.
func (v *Vehicle) Handle(msg message.Message) error {
	select {
	case <-v.ctx.Done():
		return ErrClosed
	default:
	}

	select {
	case v.inbox <- msg:
		return nil
	case <-v.ctx.Done():
		return ErrClosed
	default:
		return ErrBusy
	}
}

// HandleControl records a control frame.
func (v *Vehicle) HandleControl(data message.ControlData) {
	v.mu.Lock()
	v.stats.ControlFrames++
	v.stats.LastControl = data
	v.mu.Unlock()
}

// Stats returns a snapshot of the vehicle counters.
func (v *Vehicle) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

// Close stops the worker. Pending link reports are dropped.
func (v *Vehicle) Close() error {
	v.cancel()

	done := make(chan struct{})
	go func() {
		v.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("vehicle shutdown timeout")
	}
}

func (v *Vehicle) worker() {
	defer v.wg.Done()

	for {
		select {
		case msg := <-v.inbox:
			v.process(msg)
		case <-v.ctx.Done():
			return
		}
	}
}

func (v *Vehicle) process(msg message.Message) {
	v.mu.Lock()
	v.stats.Received++
	v.mu.Unlock()
	v.log.WithField("message", msg.String()).Debug("Vehicle received")

	if msg.Type() != message.MessageSignalData {
		v.log.WithField("message", msg.String()).Warn("Vehicle ignoring unexpected payload")
		return
	}

	switch msg.Command() {
	case message.CommandStart:
		v.handleStart(msg.Parameter())
	case message.CommandCalibrationSettings:
		v.handleSettingsReply(msg.Parameter())
	case message.CommandAppLoop:
		if msg.Parameter() == message.ParamStart {
			v.setConnected()
			v.send(message.NewSignal(message.CommandAppLoop, message.ParamAck))
		}
	case message.CommandRadioCalibration:
		v.handleRadioCalibration(msg.Parameter())
	case message.CommandRadioSettings:
		v.handleRadioSettings(msg.Parameter())
	case message.CommandRadioBreak:
		v.handleRadioBreak(msg.Parameter())
	default:
		v.log.WithField("message", msg.String()).Warn("Vehicle ignoring unknown command")
	}
}

func (v *Vehicle) handleStart(param message.Parameter) {
	if param != message.ParamStart || v.scenario.SilentStart {
		return
	}
	v.corruptSettings = v.scenario.CorruptSettings

	v.send(message.NewSignal(message.CommandStart, message.ParamAck))
	for i := 0; i < v.scenario.NonStaticReports; i++ {
		v.send(message.NewSignal(message.CommandCalibrationSettings, message.ParamNonStatic))
	}
	v.send(message.NewSignal(message.CommandCalibrationSettings, message.ParamReady))
	v.sendSettings()
}

func (v *Vehicle) handleSettingsReply(param message.Parameter) {
	if param == message.ParamDataInvalid {
		v.sendSettings()
	}
}

func (v *Vehicle) sendSettings() {
	settings := message.CalibrationSettings{
		GyroOffset:    [3]float32{0.012, -0.008, 0.004},
		AccelScale:    [3]float32{1.002, 0.998, 1.001},
		BoardRotation: [3]float32{0, 0, 0},
	}
	if v.corruptSettings > 0 {
		v.corruptSettings--
		settings.AccelScale[0] = 0
	}

	payload, err := settings.MarshalBinary()
	if err != nil {
		v.log.WithError(err).Error("Failed to encode calibration settings")
		return
	}
	v.send(message.NewSignalPayload(message.CommandCalibrationSettingsData, payload))
}

func (v *Vehicle) handleRadioCalibration(param message.Parameter) {
	switch param {
	case message.ParamStart:
		v.corruptRadio = v.scenario.CorruptRadio
		v.degradedChecks = v.scenario.DegradedChecks
		v.send(message.NewSignal(message.CommandRadioCalibration, message.ParamAck))
	case message.ParamStop:
		v.mu.Lock()
		v.stats.Calibrated = true
		v.mu.Unlock()
		v.send(message.NewSignal(message.CommandRadioCalibration, message.ParamAck))
	}
}

func (v *Vehicle) handleRadioSettings(param message.Parameter) {
	switch param {
	case message.ParamStart:
		v.send(message.NewSignal(message.CommandRadioSettings, message.ParamAck))
		v.sendRadio()
	case message.ParamDataInvalid:
		v.sendRadio()
	}
}

func (v *Vehicle) sendRadio() {
	cal := message.RadioCalibration{Channels: make([]message.ChannelRange, v.scenario.Channels)}
	for i := range cal.Channels {
		spread := uint16(i * 3)
		cal.Channels[i] = message.ChannelRange{Min: 1000 + spread, Center: 1500, Max: 2000 - spread}
	}
	if v.corruptRadio > 0 {
		v.corruptRadio--
		cal.Channels[0].Center = cal.Channels[0].Max + 1
	}

	payload, err := cal.MarshalBinary()
	if err != nil {
		v.log.WithError(err).Error("Failed to encode radio calibration")
		return
	}
	v.send(message.NewSignalPayload(message.CommandRadioSettingsData, payload))
}

// handleRadioBreak drops the radio link on START and restores it on STOP,
// reporting each change to the ground.
func (v *Vehicle) handleRadioBreak(param message.Parameter) {
	switch param {
	case message.ParamStart:
		v.reportLink(message.ParamBreak)
	case message.ParamStop:
		if v.degradedChecks > 0 {
			v.degradedChecks--
			v.reportLink(message.ParamInvalid)
			return
		}
		v.reportLink(message.ParamValid)
	}
}

func (v *Vehicle) reportLink(param message.Parameter) {
	report := message.NewSignal(message.CommandRadioBreak, param)
	if v.scenario.LinkDelay <= 0 {
		v.send(report)
		return
	}
	time.AfterFunc(v.scenario.LinkDelay, func() {
		if v.ctx.Err() == nil {
			v.send(report)
		}
	})
}

func (v *Vehicle) setConnected() {
	v.mu.Lock()
	v.stats.Connected = true
	v.mu.Unlock()
}

func (v *Vehicle) send(msg message.Message) {
	if err := v.out.Send(msg); err != nil {
		v.log.WithError(err).WithField("message", msg.String()).Warn("Vehicle send failed")
	}
}
