package monitor

import (
	"context"
	"time"

	"github.com/krystian-wojtas/skydive/internal/message"
	"github.com/krystian-wojtas/skydive/internal/telemetry"
)

// Sender delivers outbound messages to the device.
type Sender interface {
	Send(msg message.Message) error
}

// Publisher receives lifecycle events for telemetry subscribers.
type Publisher interface {
	PublishLink(link string, event telemetry.Event) error
}

// AuditLogger records action lifecycle outcomes.
type AuditLogger interface {
	LogAction(ctx context.Context, action, linkID, result string, latency time.Duration)
}

// CalibrationStore persists results of successful actions.
type CalibrationStore interface {
	SaveRadioCalibration(linkID string, cal message.RadioCalibration) error
	SaveCalibrationSettings(linkID string, settings message.CalibrationSettings) error
}

// Tracer is the diagnostic sink.
type Tracer interface {
	Trace(msg string)
}
