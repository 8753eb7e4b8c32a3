package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/krystian-wojtas/skydive/internal/action"
	"github.com/krystian-wojtas/skydive/internal/config"
	"github.com/krystian-wojtas/skydive/internal/message"
	"github.com/krystian-wojtas/skydive/internal/telemetry"
	"github.com/krystian-wojtas/skydive/internal/timer"
)

// Config tunes a DeviceMonitor.
type Config struct {
	LinkID          string
	QueueSize       int
	UavEventHistory int

	// ControlFrequencyHz overrides DefaultControlDataSendingFreq when positive.
	ControlFrequencyHz float64

	Actions  action.Options
	Registry *action.Registry
	Clock    timer.Clock
	Logger   *logrus.Entry
}

// FromConfig derives the monitor settings from the daemon configuration.
func FromConfig(cfg *config.Config) (Config, error) {
	policy, err := action.ParseStartPolicy(cfg.Actions.StartPolicy)
	if err != nil {
		return Config{}, err
	}
	return Config{
		LinkID:             cfg.Link.ID,
		QueueSize:          cfg.Monitor.QueueSize,
		UavEventHistory:    cfg.Monitor.UavEventHistory,
		ControlFrequencyHz: cfg.Control.FrequencyHz,
		Actions: action.Options{
			ResponseTimeout: cfg.Actions.ResponseTimeout,
			ConnectTimeout:  cfg.Actions.ConnectTimeout,
			MaxRetries:      cfg.Actions.MaxRetries,
			StartPolicy:     policy,
		},
	}, nil
}

// Status is a snapshot of the active action, or of the last one when none
// is running.
type Status struct {
	Link       string     `json:"link"`
	Active     bool       `json:"active"`
	ActionID   string     `json:"actionId,omitempty"`
	Action     string     `json:"action,omitempty"`
	State      string     `json:"state,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// DeviceMonitor drives actions against one device link.
type DeviceMonitor struct {
	linkID   string
	sender   Sender
	tracer   Tracer
	log      *logrus.Entry
	registry *action.Registry
	opts     action.Options
	clock    timer.Clock
	freq     float64
	history  int

	publisher Publisher
	audit     AuditLogger
	store     CalibrationStore

	queue     chan func()
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	// active and its bookkeeping are written by the worker under mu.
	mu        sync.RWMutex
	active    action.Action
	activeID  string
	startedAt time.Time
	last      *Status

	// Worker only.
	lastState string
	auditCtx  context.Context

	eventsMu sync.Mutex
	events   []message.UavEvent

	pilotMu  sync.Mutex
	pilot    message.ControlData
	hasPilot bool

	seq atomic.Uint32
}

var (
	_ Monitor           = (*DeviceMonitor)(nil)
	_ FrequencyProvider = (*DeviceMonitor)(nil)
)

// NewDeviceMonitor creates a monitor and starts its dispatch worker. A nil
// tracer sends traces to the logger at debug level.
func NewDeviceMonitor(cfg Config, sender Sender, tracer Tracer) *DeviceMonitor {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.UavEventHistory <= 0 {
		cfg.UavEventHistory = 64
	}
	if cfg.Registry == nil {
		cfg.Registry = action.DefaultRegistry()
	}
	if cfg.Clock == nil {
		cfg.Clock = timer.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	log := cfg.Logger.WithField("link", cfg.LinkID)
	if tracer == nil {
		tracer = logTracer{log: log}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &DeviceMonitor{
		linkID:   cfg.LinkID,
		sender:   sender,
		tracer:   tracer,
		log:      log,
		registry: cfg.Registry,
		opts:     cfg.Actions,
		clock:    cfg.Clock,
		freq:     cfg.ControlFrequencyHz,
		history:  cfg.UavEventHistory,
		queue:    make(chan func(), cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	m.wg.Add(1)
	go m.dispatchWorker()

	return m
}

// SetPublisher sets the telemetry publisher. Call before dispatching.
func (m *DeviceMonitor) SetPublisher(p Publisher) {
	m.publisher = p
}

// SetAuditLogger sets the audit logger. Call before dispatching.
func (m *DeviceMonitor) SetAuditLogger(a AuditLogger) {
	m.audit = a
}

// SetCalibrationStore sets where successful results are persisted. Call
// before dispatching.
func (m *DeviceMonitor) SetCalibrationStore(s CalibrationStore) {
	m.store = s
}

// LinkID returns the link this monitor drives.
func (m *DeviceMonitor) LinkID() string {
	return m.linkID
}

// dispatchWorker runs queued jobs in FIFO order.
func (m *DeviceMonitor) dispatchWorker() {
	defer m.wg.Done()

	for {
		select {
		case job := <-m.queue:
			m.run(job)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *DeviceMonitor) run(job func()) {
	defer m.settle()
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", r).Error("Dispatch job panicked")
		}
	}()
	job()
}

// enqueue hands job to the worker without blocking.
func (m *DeviceMonitor) enqueue(job func()) error {
	select {
	case <-m.ctx.Done():
		return ErrClosed
	default:
	}

	select {
	case m.queue <- job:
		return nil
	default:
		m.Trace("dispatch queue full")
		return ErrBusy
	}
}

// call runs fn on the worker and waits for its result. The result is sent
// after settle, so a finished action is already torn down when call returns.
func (m *DeviceMonitor) call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if err := m.enqueue(func() {
		err := fn()
		m.settle()
		result <- err
	}); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case <-m.ctx.Done():
		return ErrClosed
	}
}

// post delivers timer callbacks. Unlike enqueue it waits for room, since a
// lost timeout would stall the action.
func (m *DeviceMonitor) post(fn func()) {
	select {
	case m.queue <- fn:
	case <-m.ctx.Done():
	}
}

// settle runs after every job: it publishes state changes and tears down a
// finished action.
func (m *DeviceMonitor) settle() {
	a := m.active
	if a == nil {
		return
	}
	if state := a.StateName(); state != m.lastState {
		m.lastState = state
		m.publish("actionState", map[string]interface{}{
			"actionId": m.activeID,
			"action":   a.Type().String(),
			"state":    state,
		})
	}
	if action.Finished(a) {
		m.finalize(a)
	}
}

func (m *DeviceMonitor) finalize(a action.Action) {
	finishedAt := m.clock.Now()
	latency := finishedAt.Sub(m.startedAt)

	status := statusOf(m.linkID, a, m.activeID, m.startedAt)
	status.Active = false
	status.FinishedAt = &finishedAt
	a.Close()

	m.mu.Lock()
	m.active = nil
	m.activeID = ""
	m.last = &status
	m.mu.Unlock()
	m.lastState = ""

	data := map[string]interface{}{
		"actionId":  status.ActionID,
		"action":    status.Action,
		"state":     status.State,
		"outcome":   status.Outcome,
		"latencyMs": latency.Milliseconds(),
	}

	if a.Outcome() == action.OutcomeSucceeded {
		m.persist(a)
		m.logAudit(m.auditCtx, status.Action, "SUCCESS", latency)
		m.publish("actionDone", data)
		return
	}

	data["error"] = status.Error
	m.logAudit(m.auditCtx, status.Action, errorCode(a.Err()), latency)
	m.publish("actionFailed", data)
}

// persist stores the results of a successful action.
func (m *DeviceMonitor) persist(a action.Action) {
	if m.store == nil {
		return
	}
	if r, ok := a.(action.RadioCalibrationResult); ok {
		if cal, ok := r.RadioCalibration(); ok {
			if err := m.store.SaveRadioCalibration(m.linkID, cal); err != nil {
				m.log.WithError(err).Error("Failed to persist radio calibration")
			}
		}
	}
	if r, ok := a.(action.CalibrationResult); ok {
		if settings, ok := r.CalibrationSettings(); ok {
			if err := m.store.SaveCalibrationSettings(m.linkID, settings); err != nil {
				m.log.WithError(err).Error("Failed to persist calibration settings")
			}
		}
	}
}

// StartAction creates an action of type t and starts it. Only one action
// runs at a time: a second start fails with ErrBusy unless the restart
// policy applies to an action of the same type.
func (m *DeviceMonitor) StartAction(ctx context.Context, t action.Type) (Status, error) {
	type startResult struct {
		status Status
		err    error
	}

	result := make(chan startResult, 1)
	err := m.enqueue(func() {
		status, err := m.startAction(ctx, t)
		result <- startResult{status: status, err: err}
	})
	if err != nil {
		return Status{}, err
	}

	select {
	case r := <-result:
		return r.status, r.err
	case <-ctx.Done():
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case <-m.ctx.Done():
		return Status{}, ErrClosed
	}
}

func (m *DeviceMonitor) startAction(ctx context.Context, t action.Type) (Status, error) {
	if a := m.active; a != nil {
		if m.opts.StartPolicy != action.StartRestart || a.Type() != t {
			err := fmt.Errorf("%w: %s running at %s", ErrBusy, a.Type(), a.StateName())
			m.logAudit(ctx, t.String(), errorCode(err), 0)
			return Status{}, err
		}
		m.supersede(a)
		m.auditCtx = context.WithoutCancel(ctx)
		if err := a.Start(); err != nil {
			return Status{}, err
		}
		return m.Status(), nil
	}

	a, err := m.registry.New(t, &actionListener{m: m}, m.opts)
	if err != nil {
		return Status{}, err
	}

	m.mu.Lock()
	m.active = a
	m.activeID = uuid.NewString()
	m.startedAt = m.clock.Now()
	m.mu.Unlock()
	m.lastState = ""
	m.auditCtx = context.WithoutCancel(ctx)

	if err := a.Start(); err != nil {
		a.Close()
		m.mu.Lock()
		m.active = nil
		m.activeID = ""
		m.mu.Unlock()
		return Status{}, err
	}
	return m.Status(), nil
}

// supersede records the running attempt of a as restarted and gives the
// next attempt its own id.
func (m *DeviceMonitor) supersede(a action.Action) {
	now := m.clock.Now()
	latency := now.Sub(m.startedAt)
	oldID := m.activeID

	m.logAudit(m.auditCtx, a.Type().String(), "RESTARTED", latency)

	m.mu.Lock()
	m.activeID = uuid.NewString()
	m.startedAt = now
	m.mu.Unlock()
	m.lastState = ""

	m.publish("actionRestarted", map[string]interface{}{
		"actionId":   m.activeID,
		"previousId": oldID,
		"action":     a.Type().String(),
		"state":      a.StateName(),
		"latencyMs":  latency.Milliseconds(),
	})
}

// DispatchMessage queues an inbound device message for the active action.
func (m *DeviceMonitor) DispatchMessage(msg message.Message) error {
	return m.enqueue(func() { m.deliverMessage(msg) })
}

func (m *DeviceMonitor) deliverMessage(msg message.Message) {
	a := m.active
	if a == nil {
		m.tracef("no active action, dropping %s %s", msg.Type(), msg)
		return
	}
	if expected := a.ExpectedControlMessageType(); msg.Type() != expected {
		m.tracef("protocol error: %s %s not expected at %s (want %s)", msg.Type(), msg, a.StateName(), expected)
		return
	}
	if err := a.HandleReception(msg); err != nil {
		m.tracef("reception of %s failed: %v", msg, err)
	}
}

// DispatchSignal queues a link-layer signal for the active action.
func (m *DeviceMonitor) DispatchSignal(param message.Parameter) error {
	return m.enqueue(func() { m.deliverSignal(param) })
}

func (m *DeviceMonitor) deliverSignal(param message.Parameter) {
	a := m.active
	if a == nil {
		m.tracef("no active action, dropping signal %s", param)
		return
	}
	if err := a.HandleSignal(param); err != nil {
		m.tracef("signal %s failed: %v", param, err)
	}
}

// DispatchPilotEvent routes operator input. Stick input only updates the
// control frame; every other kind is queued for the active action.
func (m *DeviceMonitor) DispatchPilotEvent(event message.PilotEvent) error {
	if event.Kind == message.PilotControl {
		m.pilotMu.Lock()
		m.pilot = event.Control()
		m.hasPilot = true
		m.pilotMu.Unlock()
		return nil
	}
	return m.enqueue(func() { m.deliverPilot(event) })
}

func (m *DeviceMonitor) deliverPilot(event message.PilotEvent) {
	a := m.active
	if a == nil {
		m.tracef("no active action, pilot %s ignored", event.Kind)
		return
	}
	if err := a.HandleUserEvent(event); err != nil {
		m.tracef("pilot %s failed: %v", event.Kind, err)
	}
}

// AbortAction aborts the active action and waits until it is torn down.
func (m *DeviceMonitor) AbortAction(ctx context.Context) error {
	return m.call(ctx, func() error {
		a := m.active
		if a == nil {
			return ErrNoActiveAction
		}
		return a.HandleUserEvent(message.PilotEvent{Kind: message.PilotAbort})
	})
}

// NotifyUavEvent records event and, for link events, forwards the matching
// signal to the active action.
func (m *DeviceMonitor) NotifyUavEvent(event message.UavEvent) {
	if err := m.enqueue(func() { m.handleUavEvent(event) }); err != nil {
		m.tracef("uav event %s dropped: %v", event, err)
	}
}

func (m *DeviceMonitor) handleUavEvent(event message.UavEvent) {
	m.recordUavEvent(event)

	sig, ok := event.Signal()
	if !ok || m.active == nil {
		return
	}
	if err := m.active.HandleSignal(sig); err != nil {
		m.tracef("signal %s from %s failed: %v", sig, event.Type, err)
	}
}

func (m *DeviceMonitor) recordUavEvent(event message.UavEvent) {
	m.eventsMu.Lock()
	m.events = append(m.events, event)
	if len(m.events) > m.history {
		m.events = m.events[len(m.events)-m.history:]
	}
	m.eventsMu.Unlock()

	m.tracef("uav event %s", event)
	m.publish("uavEvent", map[string]interface{}{
		"type":    event.Type.String(),
		"message": event.Message,
	})
}

// UavEvents returns a copy of the recent UAV events, oldest first.
func (m *DeviceMonitor) UavEvents() []message.UavEvent {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	return append([]message.UavEvent(nil), m.events...)
}

// CreateTimer returns a timer whose callback runs on the dispatch worker.
func (m *DeviceMonitor) CreateTimer(fn func()) timer.Timer {
	return timer.New(fn, timer.WithClock(m.clock), timer.WithDispatcher(m.post))
}

// Trace forwards msg to the tracer. A panicking tracer is swallowed.
func (m *DeviceMonitor) Trace(msg string) {
	defer func() {
		_ = recover()
	}()
	m.tracer.Trace(msg)
}

func (m *DeviceMonitor) tracef(format string, args ...interface{}) {
	m.Trace(fmt.Sprintf(format, args...))
}

// ControlDataSendingFreq returns the configured rate or the default.
func (m *DeviceMonitor) ControlDataSendingFreq() float64 {
	if m.freq > 0 {
		return m.freq
	}
	return DefaultControlDataSendingFreq
}

// ControlDataToSend asks the active action first, then falls back to the
// last pilot stick input and finally to a neutral stop frame. Every frame
// gets the next sequence number.
func (m *DeviceMonitor) ControlDataToSend() message.ControlData {
	m.mu.RLock()
	a := m.active
	m.mu.RUnlock()

	data, ok := message.ControlData{}, false
	if src, is := a.(action.ControlSource); is {
		data, ok = src.ControlData()
	}
	if !ok {
		m.pilotMu.Lock()
		data, ok = m.pilot, m.hasPilot
		m.pilotMu.Unlock()
	}
	if !ok {
		data = message.NeutralControl(message.ControlStop)
	}

	data.Seq = m.seq.Add(1)
	return data
}

// Status returns a snapshot safe to read from any goroutine.
func (m *DeviceMonitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active != nil {
		return statusOf(m.linkID, m.active, m.activeID, m.startedAt)
	}
	if m.last != nil {
		return *m.last
	}
	return Status{Link: m.linkID}
}

func statusOf(link string, a action.Action, id string, startedAt time.Time) Status {
	started := startedAt
	state, outcome := action.Snapshot(a)
	s := Status{
		Link:      link,
		Active:    outcome == action.OutcomePending,
		ActionID:  id,
		Action:    a.Type().String(),
		State:     state,
		Outcome:   outcome.String(),
		StartedAt: &started,
	}
	if err := a.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}

// Close stops the worker and releases the active action.
func (m *DeviceMonitor) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.cancel()

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(10 * time.Second):
			err = fmt.Errorf("shutdown timeout")
			return
		}

		// The worker is gone, nothing else touches the action.
		m.mu.Lock()
		a := m.active
		m.active = nil
		m.mu.Unlock()
		if a != nil {
			m.tracef("closing with %s at %s", a.Type(), a.StateName())
			a.Close()
		}
	})
	return err
}

func (m *DeviceMonitor) publish(eventType string, data map[string]interface{}) {
	if m.publisher == nil {
		return
	}
	data["ts"] = m.clock.Now().UTC().Format(time.RFC3339)
	if err := m.publisher.PublishLink(m.linkID, telemetry.Event{Type: eventType, Data: data}); err != nil {
		m.log.WithError(err).WithField("event", eventType).Debug("Telemetry publish failed")
	}
}

// logAudit records on behalf of the user carried by ctx.
func (m *DeviceMonitor) logAudit(ctx context.Context, actionName, result string, latency time.Duration) {
	if m.audit == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.audit.LogAction(ctx, actionName, m.linkID, result, latency)
}

// errorCode reduces err to its code for audit records.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var se *action.StateError
	if errors.As(err, &se) {
		return se.Code.Error()
	}
	for _, code := range []error{ErrBusy, ErrUnavailable, ErrNoActiveAction, ErrClosed} {
		if errors.Is(err, code) {
			return code.Error()
		}
	}
	return err.Error()
}

type logTracer struct {
	log *logrus.Entry
}

func (t logTracer) Trace(msg string) {
	t.log.Debug(msg)
}
