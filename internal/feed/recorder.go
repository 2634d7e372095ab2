package feed

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Publisher accepts events. *Client implements it.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// Recorder stamps events with IDs, the run ID and a timestamp before
// handing them to a Publisher. A Recorder with a nil Publisher records
// nothing, so callers never need to check whether the feed is enabled.
type Recorder struct {
	pub    Publisher
	runID  string
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewRecorder builds a recorder for one daemon run.
func NewRecorder(pub Publisher, runID string, logger logrus.FieldLogger) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Recorder{pub: pub, runID: runID, logger: logger, now: time.Now}
}

// RunID returns the run this recorder stamps onto events.
func (r *Recorder) RunID() string {
	return r.runID
}

// Record fills in ID, RunID and TimestampMs and publishes e. Publish
// failures are logged, never returned: the feed is best-effort.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil || r.pub == nil {
		return
	}
	e.ID = uuid.New().String()
	e.RunID = r.runID
	if e.TimestampMs == 0 {
		e.TimestampMs = r.now().UnixMilli()
	}
	if err := r.pub.Publish(ctx, &e); err != nil {
		r.logger.WithError(err).WithField("type", e.Type).Debug("Failed to publish feed event")
	}
}
