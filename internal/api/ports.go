package api

import (
	"context"
	"net/http"

	"github.com/krystian-wojtas/skydive/internal/action"
	"github.com/krystian-wojtas/skydive/internal/message"
	"github.com/krystian-wojtas/skydive/internal/monitor"
	"github.com/krystian-wojtas/skydive/internal/store"
	"github.com/krystian-wojtas/skydive/internal/telemetry"
)

// MonitorPort is what the API needs from the device monitor.
type MonitorPort interface {
	LinkID() string
	StartAction(ctx context.Context, t action.Type) (monitor.Status, error)
	AbortAction(ctx context.Context) error
	DispatchPilotEvent(event message.PilotEvent) error
	Status() monitor.Status
	UavEvents() []message.UavEvent
}

// TelemetryPort is what the API needs from the telemetry hub.
type TelemetryPort interface {
	http.Handler
	Subscribe(link string, lastEventID int64) (*telemetry.Subscription, error)
	Unsubscribe(id string)
}

// CalibrationReader reads persisted calibration results.
type CalibrationReader interface {
	LatestRadioCalibration(linkID string) (store.Record[message.RadioCalibration], error)
	LatestCalibrationSettings(linkID string) (store.Record[message.CalibrationSettings], error)
}

var (
	_ MonitorPort       = (*monitor.DeviceMonitor)(nil)
	_ TelemetryPort     = (*telemetry.Hub)(nil)
	_ CalibrationReader = (*store.Store)(nil)
)
