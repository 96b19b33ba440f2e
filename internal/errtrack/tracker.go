package errtrack

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"scribepipe/internal/logger"
)

// Event is the structured error record sent to the alerting channel.
type Event struct {
	Kind     Kind
	Severity Severity
	Message  string
	JobID    string
	UserID   string
}

// Notifier delivers error events to an external channel.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Tracker captures classified failures: every failure is logged, critical
// ones are pushed to the notifier without ever blocking the caller.
type Tracker struct {
	notifier Notifier
	log      *logger.Logger
}

// NewTracker builds a tracker. A nil notifier disables alerting.
func NewTracker(notifier Notifier) *Tracker {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Tracker{notifier: notifier, log: logger.New()}
}

// Capture records a failure. Notification is fire-and-forget; a slow or dead
// alerting channel must never block job completion.
func (t *Tracker) Capture(jobID, userID string, err error) (Kind, Severity) {
	kind, severity := Classify(err)
	entry := t.log.WithComponent("errtrack").
		WithJob(jobID, userID).
		WithField("kind", string(kind)).
		WithField("severity", string(severity)).
		WithField("error", err.Error())
	if severity == SeverityCritical {
		entry.Error("failure captured")
	} else {
		entry.Warn("failure captured")
	}

	if severity == SeverityCritical {
		ev := Event{Kind: kind, Severity: severity, Message: err.Error(), JobID: jobID, UserID: userID}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if nerr := t.notifier.Notify(ctx, ev); nerr != nil {
				t.log.WithComponent("errtrack").WithError(nerr).Warn("notification delivery failed")
			}
		}()
	}
	return kind, severity
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Event) error { return nil }

// NtfyNotifier pushes events to an ntfy topic over plain HTTP.
type NtfyNotifier struct {
	endpoint string
	client   *http.Client
}

// NewNtfyNotifier builds a notifier, or a noop when no topic is configured.
func NewNtfyNotifier(topic string, timeout time.Duration) Notifier {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return noopNotifier{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NtfyNotifier{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// Notify posts the event as an ntfy message.
func (n *NtfyNotifier) Notify(ctx context.Context, ev Event) error {
	body := fmt.Sprintf("job %s (user %s): %s", ev.JobID, ev.UserID, ev.Message)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-Title", fmt.Sprintf("scribepipe - %s failure", ev.Kind))
	req.Header.Set("X-Tags", "scribepipe,"+string(ev.Kind)+","+string(ev.Severity))
	if ev.Severity == SeverityCritical {
		req.Header.Set("X-Priority", "high")
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification rejected: status %d", resp.StatusCode)
	}
	return nil
}
