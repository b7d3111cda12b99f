// File: internal/notification/notifier.go
package notification

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stacklabel/update-governor/pkg/utils"
)

// Lifecycle event types emitted by the governance core
const (
	EventRequestCreated  = "request.created"
	EventRequestApproved = "request.approved"
	EventRequestRejected = "request.rejected"
	EventRequestExpired  = "request.expired"
	EventQueueRejected   = "queue.rejected"
	EventUpdateExecuted  = "update.executed"
	EventUpdateFailed    = "update.failed"
)

// Event is one lifecycle notification
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Notifier receives lifecycle events from the core. Implementations must
// not block the caller; delivery is fire-and-forget.
type Notifier interface {
	Notify(event *Event)
}

// Channel delivers an event to one destination
type Channel interface {
	Name() string
	Send(event *Event) error
}

// NotifierConfig holds notification configuration
type NotifierConfig struct {
	Enabled    bool          `json:"enabled"`
	WebhookURL string        `json:"webhook_url"`
	Timeout    time.Duration `json:"timeout"`
}

// Manager fans lifecycle events out to the configured channels
type Manager struct {
	channels []Channel
	logger   *logrus.Logger
}

// NewManager creates a notification manager from configuration. The log
// channel is always present; a webhook channel is added when configured.
func NewManager(config *NotifierConfig) *Manager {
	logger := utils.GetLogger()

	channels := []Channel{&LogChannel{logger: logger}}
	if config != nil && config.Enabled && config.WebhookURL != "" {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		channels = append(channels, &WebhookChannel{
			url:    config.WebhookURL,
			client: &http.Client{Timeout: timeout},
		})
	}

	return &Manager{channels: channels, logger: logger}
}

// Notify delivers the event to every channel without blocking the caller
func (m *Manager) Notify(event *Event) {
	if event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, channel := range m.channels {
		go func(ch Channel) {
			if err := ch.Send(event); err != nil {
				m.logger.Warn("Notification delivery failed", map[string]interface{}{
					"channel": ch.Name(),
					"type":    event.Type,
					"error":   err.Error(),
				})
			}
		}(channel)
	}
}

// LogChannel writes events to the structured log
type LogChannel struct {
	logger *logrus.Logger
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(event *Event) error {
	c.logger.Info("Governance event", map[string]interface{}{
		"type": event.Type,
		"data": event.Data,
	})
	return nil
}

// WebhookChannel POSTs events to a configured endpoint
type WebhookChannel struct {
	url    string
	client *http.Client
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal event", err.Error())
	}

	resp, err := c.client.Post(c.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Webhook delivery failed", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return utils.NewAppError(utils.ErrCodeInternal, "Webhook returned non-success status", resp.Status)
	}
	return nil
}

// NopNotifier discards all events, for tests and optional wiring
type NopNotifier struct{}

func (NopNotifier) Notify(*Event) {}
