package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/krystian-wojtas/skydive/internal/action"
	"github.com/krystian-wojtas/skydive/internal/message"
	"github.com/krystian-wojtas/skydive/internal/telemetry"
	"github.com/krystian-wojtas/skydive/internal/timer"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []message.Message
}

func (s *fakeSender) Send(msg message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) last() message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return message.Message{}
	}
	return s.sent[len(s.sent)-1]
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeTracer struct {
	mu     sync.Mutex
	traces []string
}

func (t *fakeTracer) Trace(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.traces = append(t.traces, msg)
}

func (t *fakeTracer) contains(substr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tr := range t.traces {
		if strings.Contains(tr, substr) {
			return true
		}
	}
	return false
}

type fakePublisher struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (p *fakePublisher) PublishLink(link string, event telemetry.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	event.Link = link
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type auditRecord struct {
	action string
	result string
}

type fakeAudit struct {
	mu      sync.Mutex
	records []auditRecord
}

func (a *fakeAudit) LogAction(_ context.Context, actionName, _ string, result string, _ time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, auditRecord{action: actionName, result: result})
}

func (a *fakeAudit) results() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, r := range a.records {
		out = append(out, r.result)
	}
	return out
}

type fakeStore struct {
	mu       sync.Mutex
	radio    []message.RadioCalibration
	settings []message.CalibrationSettings
}

func (s *fakeStore) SaveRadioCalibration(_ string, cal message.RadioCalibration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.radio = append(s.radio, cal)
	return nil
}

func (s *fakeStore) SaveCalibrationSettings(_ string, settings message.CalibrationSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = append(s.settings, settings)
	return nil
}

type fixture struct {
	m         *DeviceMonitor
	clock     *timer.ManualClock
	sender    *fakeSender
	tracer    *fakeTracer
	publisher *fakePublisher
	audit     *fakeAudit
	store     *fakeStore
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		clock:     timer.NewManualClock(time.Unix(0, 0)),
		sender:    &fakeSender{},
		tracer:    &fakeTracer{},
		publisher: &fakePublisher{},
		audit:     &fakeAudit{},
		store:     &fakeStore{},
	}
	cfg := Config{
		LinkID:    "uav-test",
		QueueSize: 16,
		Clock:     f.clock,
		Actions: action.Options{
			ResponseTimeout: 100 * time.Millisecond,
			ConnectTimeout:  time.Second,
			MaxRetries:      1,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.m = NewDeviceMonitor(cfg, f.sender, f.tracer)
	f.m.SetPublisher(f.publisher)
	f.m.SetAuditLogger(f.audit)
	f.m.SetCalibrationStore(f.store)
	t.Cleanup(func() { _ = f.m.Close() })
	return f
}

// flush waits until every job queued so far has run.
func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.m.call(ctx, func() error { return nil }); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
}

func (f *fixture) dispatch(t *testing.T, msg message.Message) {
	t.Helper()
	if err := f.m.DispatchMessage(msg); err != nil {
		t.Fatalf("DispatchMessage failed: %v", err)
	}
	f.flush(t)
}

func (f *fixture) signal(t *testing.T, param message.Parameter) {
	t.Helper()
	if err := f.m.DispatchSignal(param); err != nil {
		t.Fatalf("DispatchSignal failed: %v", err)
	}
	f.flush(t)
}

func radioPayload() []byte {
	cal := message.RadioCalibration{Channels: []message.ChannelRange{
		{Min: 1000, Center: 1500, Max: 2000},
		{Min: 1100, Center: 1500, Max: 1900},
	}}
	payload, _ := cal.MarshalBinary()
	return payload
}

func startRadio(t *testing.T, f *fixture) Status {
	t.Helper()
	status, err := f.m.StartAction(context.Background(), action.TypeRadioCalibration)
	if err != nil {
		t.Fatalf("StartAction failed: %v", err)
	}
	return status
}

func TestRadioCalibrationThroughMonitor(t *testing.T) {
	f := newFixture(t, nil)

	status := startRadio(t, f)
	if !status.Active || status.State != "INITIAL_COMMAND" || status.ActionID == "" {
		t.Fatalf("Unexpected start status %+v", status)
	}
	if !f.sender.last().Matches(message.CommandRadioCalibration, message.ParamStart) {
		t.Errorf("Expected RADIO_CALIBRATION(START) sent, got %s", f.sender.last())
	}

	f.dispatch(t, message.NewSignal(message.CommandRadioCalibration, message.ParamAck))
	f.dispatch(t, message.NewSignal(message.CommandRadioSettings, message.ParamAck))
	f.dispatch(t, message.NewSignalPayload(message.CommandRadioSettingsData, radioPayload()))
	if got := f.m.Status().State; got != "BREAKING" {
		t.Fatalf("Expected BREAKING, got %s", got)
	}

	// Link events reach the action as signals
	f.m.NotifyUavEvent(message.NewUavEvent(message.UavLinkBroken, ""))
	f.flush(t)
	f.m.NotifyUavEvent(message.NewUavEvent(message.UavLinkRestored, ""))
	f.flush(t)
	if got := f.m.Status().State; got != "FINAL_COMMAND" {
		t.Fatalf("Expected FINAL_COMMAND, got %s", got)
	}

	f.dispatch(t, message.NewSignal(message.CommandRadioCalibration, message.ParamAck))

	status = f.m.Status()
	if status.Active || status.State != "CALIBRATION_RECEPTION" || status.Outcome != "succeeded" {
		t.Errorf("Expected finished success status, got %+v", status)
	}
	if status.FinishedAt == nil {
		t.Error("Expected FinishedAt on last status")
	}

	if len(f.store.radio) != 1 || len(f.store.radio[0].Channels) != 2 {
		t.Errorf("Expected radio calibration persisted, got %+v", f.store.radio)
	}

	results := f.audit.results()
	if len(results) != 2 || results[0] != "STARTED" || results[1] != "SUCCESS" {
		t.Errorf("Expected STARTED then SUCCESS audit, got %v", results)
	}

	types := f.publisher.types()
	if types[0] != "actionStarted" || types[len(types)-1] != "actionDone" {
		t.Errorf("Expected actionStarted ... actionDone, got %v", types)
	}

	var calibrated bool
	for _, ev := range f.m.UavEvents() {
		if ev.Type == message.UavRadioCalibrated {
			calibrated = true
		}
	}
	if !calibrated {
		t.Error("Expected RADIO_CALIBRATED in UAV event history")
	}
}

func TestProtocolErrorIsDropped(t *testing.T) {
	f := newFixture(t, nil)
	startRadio(t, f)

	// INITIAL_COMMAND waits for signal data, a payload is a protocol error
	f.dispatch(t, message.NewSignalPayload(message.CommandRadioSettingsData, radioPayload()))

	if got := f.m.Status().State; got != "INITIAL_COMMAND" {
		t.Errorf("Expected state unchanged, got %s", got)
	}
	if !f.tracer.contains("protocol error") {
		t.Error("Expected protocol error trace")
	}
}

func TestStartWhileBusy(t *testing.T) {
	f := newFixture(t, nil)
	startRadio(t, f)

	_, err := f.m.StartAction(context.Background(), action.TypeConnect)
	if !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}
	if got := f.m.Status().Action; got != "radio_calibration" {
		t.Errorf("Expected radio calibration still active, got %s", got)
	}
}

func TestStartRestartPolicy(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Actions.StartPolicy = action.StartRestart })
	first := startRadio(t, f)
	f.dispatch(t, message.NewSignal(message.CommandRadioCalibration, message.ParamAck))

	second := startRadio(t, f)
	if second.State != "INITIAL_COMMAND" {
		t.Errorf("Expected restart into INITIAL_COMMAND, got %s", second.State)
	}
	if second.ActionID == "" || second.ActionID == first.ActionID {
		t.Errorf("Expected a fresh id for the restarted attempt, got %s and %s", first.ActionID, second.ActionID)
	}
	if got := f.m.Status().ActionID; got != second.ActionID {
		t.Errorf("Expected status to carry id %s, got %s", second.ActionID, got)
	}

	results := f.audit.results()
	want := []string{"STARTED", "RESTARTED", "STARTED"}
	if len(results) != len(want) {
		t.Fatalf("Expected audit %v, got %v", want, results)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("Audit %d: expected %s, got %s", i, want[i], results[i])
		}
	}

	var restarted bool
	for _, typ := range f.publisher.types() {
		if typ == "actionRestarted" {
			restarted = true
		}
	}
	if !restarted {
		t.Errorf("Expected an actionRestarted event, got %v", f.publisher.types())
	}

	// A different type is still rejected
	if _, err := f.m.StartAction(context.Background(), action.TypeConnect); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy for other type, got %v", err)
	}
}

func TestAbortAction(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.m.AbortAction(context.Background()); !errors.Is(err, ErrNoActiveAction) {
		t.Errorf("Expected ErrNoActiveAction, got %v", err)
	}

	startRadio(t, f)
	f.dispatch(t, message.NewSignal(message.CommandRadioCalibration, message.ParamAck))
	f.dispatch(t, message.NewSignal(message.CommandRadioSettings, message.ParamAck))

	if err := f.m.AbortAction(context.Background()); err != nil {
		t.Fatalf("AbortAction failed: %v", err)
	}

	status := f.m.Status()
	if status.Active || status.State != "FAILED" || status.Outcome != "failed" {
		t.Errorf("Expected failed status, got %+v", status)
	}
	if !strings.Contains(status.Error, "ABORTED") {
		t.Errorf("Expected abort error, got %q", status.Error)
	}
	results := f.audit.results()
	if results[len(results)-1] != action.ErrAborted.Error() {
		t.Errorf("Expected abort code in audit, got %v", results)
	}

	// The slot is free again
	startRadio(t, f)
}

func TestAbortReturnsAfterTeardown(t *testing.T) {
	f := newFixture(t, nil)

	for i := 0; i < 200; i++ {
		startRadio(t, f)
		if err := f.m.DispatchMessage(message.NewSignal(message.CommandRadioCalibration, message.ParamAck)); err != nil {
			t.Fatalf("DispatchMessage failed: %v", err)
		}

		if err := f.m.AbortAction(context.Background()); err != nil {
			t.Fatalf("Run %d: AbortAction failed: %v", i, err)
		}

		// No flush: the abort itself must have finished the teardown.
		status := f.m.Status()
		if status.Active || status.FinishedAt == nil || status.Outcome != "failed" {
			t.Fatalf("Run %d: expected a finished status, got %+v", i, status)
		}
		results := f.audit.results()
		if results[len(results)-1] != action.ErrAborted.Error() {
			t.Fatalf("Run %d: expected abort code in audit, got %v", i, results)
		}
		types := f.publisher.types()
		if types[len(types)-1] != "actionFailed" {
			t.Fatalf("Run %d: expected actionFailed last, got %v", i, types)
		}
	}
}

func TestPilotAbortEvent(t *testing.T) {
	f := newFixture(t, nil)
	startRadio(t, f)

	if err := f.m.DispatchPilotEvent(message.PilotEvent{Kind: message.PilotAbort}); err != nil {
		t.Fatalf("DispatchPilotEvent failed: %v", err)
	}
	f.flush(t)

	if got := f.m.Status().Outcome; got != "failed" {
		t.Errorf("Expected failed outcome, got %s", got)
	}
}

func TestTimeoutRunsOnWorker(t *testing.T) {
	f := newFixture(t, nil)
	startRadio(t, f)
	sent := f.sender.count()

	// First timeout retries, second exceeds MaxRetries=1
	f.clock.Advance(100 * time.Millisecond)
	f.flush(t)
	if f.sender.count() != sent+1 {
		t.Errorf("Expected one resend, got %d messages", f.sender.count()-sent)
	}

	f.clock.Advance(100 * time.Millisecond)
	f.flush(t)

	status := f.m.Status()
	if status.Outcome != "failed" || !strings.Contains(status.Error, "RETRY_EXHAUSTED") {
		t.Errorf("Expected retry exhaustion, got %+v", status)
	}

	// Timer was released with the action
	if f.clock.Waiting() != 0 {
		t.Errorf("Expected no pending timers, got %d", f.clock.Waiting())
	}
}

func TestConnectPersistsSettings(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.m.StartAction(context.Background(), action.TypeConnect); err != nil {
		t.Fatalf("StartAction failed: %v", err)
	}

	settings := message.CalibrationSettings{AccelScale: [3]float32{1, 1, 1}}
	payload, _ := settings.MarshalBinary()

	f.dispatch(t, message.NewSignal(message.CommandStart, message.ParamAck))
	f.dispatch(t, message.NewSignal(message.CommandCalibrationSettings, message.ParamReady))
	f.dispatch(t, message.NewSignalPayload(message.CommandCalibrationSettingsData, payload))
	f.dispatch(t, message.NewSignal(message.CommandAppLoop, message.ParamAck))

	if got := f.m.Status().Outcome; got != "succeeded" {
		t.Fatalf("Expected connect success, got %s", got)
	}
	if len(f.store.settings) != 1 || f.store.settings[0] != settings {
		t.Errorf("Expected settings persisted, got %+v", f.store.settings)
	}
}

func TestControlDataToSend(t *testing.T) {
	f := newFixture(t, nil)

	first := f.m.ControlDataToSend()
	if first.Command != message.ControlStop || first.Seq != 1 {
		t.Errorf("Expected neutral stop frame seq 1, got %+v", first)
	}

	if err := f.m.DispatchPilotEvent(message.PilotEvent{Kind: message.PilotControl, Roll: 0.5, Throttle: 0.7}); err != nil {
		t.Fatalf("DispatchPilotEvent failed: %v", err)
	}
	manual := f.m.ControlDataToSend()
	if manual.Command != message.ControlManual || manual.Roll != 0.5 || manual.Seq != 2 {
		t.Errorf("Expected manual frame seq 2, got %+v", manual)
	}

	// A running calibration holds the vehicle regardless of the sticks
	startRadio(t, f)
	hold := f.m.ControlDataToSend()
	if hold.Command != message.ControlHold || hold.Seq != 3 {
		t.Errorf("Expected hold frame seq 3, got %+v", hold)
	}
}

type fixedFreq struct {
	Base
	monitorStub
}

type customFreq struct {
	monitorStub
}

func (customFreq) ControlDataSendingFreq() float64 { return 50 }

type monitorStub struct{}

func (monitorStub) NotifyUavEvent(message.UavEvent)        {}
func (monitorStub) ControlDataToSend() message.ControlData { return message.ControlData{} }
func (monitorStub) CreateTimer(fn func()) timer.Timer      { return timer.New(fn) }
func (monitorStub) Trace(string)                           {}

func TestControlDataSendingFreq(t *testing.T) {
	tests := []struct {
		name string
		m    Monitor
		want float64
	}{
		{"plain monitor", monitorStub{}, 25.0},
		{"embedded base", fixedFreq{}, 25.0},
		{"override", customFreq{}, 50.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ControlDataSendingFreq(tt.m); got != tt.want {
				t.Errorf("Expected %.1f Hz, got %.1f", tt.want, got)
			}
		})
	}

	f := newFixture(t, nil)
	if got := ControlDataSendingFreq(f.m); got != DefaultControlDataSendingFreq {
		t.Errorf("Expected default rate, got %.1f", got)
	}
	g := newFixture(t, func(c *Config) { c.ControlFrequencyHz = 40 })
	if got := ControlDataSendingFreq(g.m); got != 40 {
		t.Errorf("Expected configured 40 Hz, got %.1f", got)
	}
}

func TestNotifyUavEventPtrMovesOwnership(t *testing.T) {
	f := newFixture(t, nil)

	ev := &message.UavEvent{Type: message.UavError, Message: "gps lost"}
	NotifyUavEventPtr(f.m, ev)
	f.flush(t)

	if !ev.IsZero() {
		t.Errorf("Expected caller copy zeroed, got %+v", *ev)
	}
	events := f.m.UavEvents()
	if len(events) != 1 || events[0].Message != "gps lost" {
		t.Errorf("Expected the monitor to own the event, got %+v", events)
	}

	// nil is ignored
	NotifyUavEventPtr(f.m, nil)
}

func TestUavEventHistoryBounded(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.UavEventHistory = 2 })

	for _, typ := range []message.UavEventType{message.UavConnected, message.UavLinkDegraded, message.UavDisconnected} {
		f.m.NotifyUavEvent(message.NewUavEvent(typ, ""))
	}
	f.flush(t)

	events := f.m.UavEvents()
	if len(events) != 2 || events[0].Type != message.UavLinkDegraded {
		t.Errorf("Expected the two newest events, got %+v", events)
	}
	events[0].Message = "mutated"
	if f.m.UavEvents()[0].Message != "" {
		t.Error("Expected UavEvents to return a copy")
	}
}

func TestQueueFullReturnsBusy(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.QueueSize = 1 })

	release := make(chan struct{})
	if err := f.m.enqueue(func() { <-release }); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// Fill the queue while the worker is blocked
	var busy error
	for i := 0; i < 3 && busy == nil; i++ {
		busy = f.m.DispatchSignal(message.ParamBreak)
	}
	close(release)

	if !errors.Is(busy, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", busy)
	}
	if !f.tracer.contains("queue full") {
		t.Error("Expected queue full trace")
	}
}

type panickyTracer struct{}

func (panickyTracer) Trace(string) { panic("sink broken") }

func TestTraceNeverFails(t *testing.T) {
	m := NewDeviceMonitor(Config{LinkID: "x"}, &fakeSender{}, panickyTracer{})
	defer m.Close()

	m.Trace("hello")
}

func TestCloseReleasesActiveAction(t *testing.T) {
	f := newFixture(t, nil)
	startRadio(t, f)

	if err := f.m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if f.clock.Waiting() != 0 {
		t.Errorf("Expected timers cancelled, got %d pending", f.clock.Waiting())
	}
	if err := f.m.DispatchSignal(message.ParamBreak); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := f.m.StartAction(context.Background(), action.TypeConnect); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestUnknownActionType(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.m.StartAction(context.Background(), action.TypeUnknown); !errors.Is(err, action.ErrUnknownType) {
		t.Errorf("Expected ErrUnknownType, got %v", err)
	}
}

func TestSignalWithoutActionIsTraced(t *testing.T) {
	f := newFixture(t, nil)
	f.signal(t, message.ParamBreak)

	if !f.tracer.contains("no active action, dropping signal BREAK") {
		t.Error("Expected dropped signal trace")
	}
}
