// Package notify dispatches workflow events to a tenant's configured
// notification channels.
//
// Channels are pluggable ChannelDriver implementations looked up by
// kind. The built-in drivers cover signed webhooks and Slack incoming
// webhooks; additional kinds can be added via RegisterDriver.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mediaforge/mediaforge/sales-engine/internal/store"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/contracts"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
	"github.com/rs/zerolog/log"
)

// ── Event types ─────────────────────────────────────────────

const (
	EventTaskCreated     = "task_created"
	EventTaskAssigned    = "task_assigned"
	EventTaskCompleted   = "task_completed"
	EventTaskFailed      = "task_failed"
	EventCreativePending = "creative_pending_review"
)

// Event is the notification payload. It maps 1:1 to contracts.NotificationEvent.
type Event = contracts.NotificationEvent

// ── Service ──────────────────────────────────────────────────

// Service fans notification events out to a tenant's channels.
type Service struct {
	store   store.Store
	client  *http.Client
	drivers map[models.ChannelKind]contracts.ChannelDriver
	drvMu   sync.RWMutex
}

// NewService creates a notification service with the built-in
// webhook and Slack drivers registered.
func NewService(s store.Store) *Service {
	svc := &Service{
		store: s,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		drivers: make(map[models.ChannelKind]contracts.ChannelDriver),
	}
	svc.RegisterDriver(&WebhookChannelDriver{client: svc.client})
	svc.RegisterDriver(&SlackChannelDriver{client: svc.client})
	return svc
}

// RegisterDriver adds or replaces a channel driver for the given kind.
func (s *Service) RegisterDriver(driver contracts.ChannelDriver) {
	s.drvMu.Lock()
	defer s.drvMu.Unlock()
	s.drivers[driver.Kind()] = driver
	log.Info().Str("kind", string(driver.Kind())).Msg("Registered notification channel driver")
}

// GetDriver returns the driver for a given channel kind, or nil.
func (s *Service) GetDriver(kind models.ChannelKind) contracts.ChannelDriver {
	s.drvMu.RLock()
	defer s.drvMu.RUnlock()
	return s.drivers[kind]
}

// ── Dispatch ─────────────────────────────────────────────────

// Dispatch sends the event to every matching channel the tenant has
// configured. Delivery is fire-and-forget: failures are logged and
// never propagate to the operation that raised the event.
func (s *Service) Dispatch(ctx context.Context, tenantID string, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.TenantID == "" {
		event.TenantID = tenantID
	}

	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenantID).Msg("Notification dispatch: tenant lookup failed")
		return
	}

	channels := tenantChannels(tenant)
	if len(channels) == 0 {
		return
	}

	var wg sync.WaitGroup
	for i := range channels {
		ch := channels[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.dispatchToChannel(ctx, &ch, event)
		}()
	}
	wg.Wait()
}

// dispatchToChannel sends the event through one channel.
func (s *Service) dispatchToChannel(ctx context.Context, channel *models.NotificationChannel, event Event) {
	if !channel.Active {
		return
	}
	if !channelSubscribes(channel, event.Type) {
		return
	}

	driver := s.GetDriver(channel.Kind)
	if driver == nil {
		log.Warn().Str("kind", string(channel.Kind)).Str("channel", channel.Name).Msg("No channel driver")
		return
	}

	if err := driver.Send(ctx, channel, event); err != nil {
		log.Warn().Err(err).
			Str("channel", channel.Name).
			Str("kind", string(channel.Kind)).
			Str("event", event.Type).
			Msg("Channel notification failed")
		return
	}
	log.Info().
		Str("channel", channel.Name).
		Str("kind", string(channel.Kind)).
		Str("event", event.Type).
		Str("step", event.StepID).
		Msg("Channel notification dispatched")
}

// tenantChannels builds the effective channel list for a tenant.
// A legacy SlackWebhookURL is exposed as an implicit slack channel
// so older tenant configs keep working.
func tenantChannels(tenant *models.Tenant) []models.NotificationChannel {
	channels := make([]models.NotificationChannel, 0, len(tenant.NotificationChannels)+1)
	channels = append(channels, tenant.NotificationChannels...)
	if tenant.SlackWebhookURL != "" {
		channels = append(channels, models.NotificationChannel{
			Kind:   models.ChannelSlack,
			Name:   "slack-default",
			URL:    tenant.SlackWebhookURL,
			Active: true,
		})
	}
	return channels
}

func channelSubscribes(ch *models.NotificationChannel, eventType string) bool {
	if len(ch.Events) == 0 {
		return true // empty means "all events"
	}
	for _, e := range ch.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// ── Webhook Channel Driver ───────────────────────────────────

// WebhookChannelDriver posts the event as JSON to the channel URL
// with HMAC-SHA256 signing when a secret is configured.
type WebhookChannelDriver struct {
	client *http.Client
}

// Kind returns ChannelWebhook.
func (d *WebhookChannelDriver) Kind() models.ChannelKind {
	return models.ChannelWebhook
}

// Send posts the event with up to 3 attempts and linear backoff.
func (d *WebhookChannelDriver) Send(ctx context.Context, channel *models.NotificationChannel, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, channel.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SalesEngine-Webhook/1.0")
	req.Header.Set("X-SalesEngine-Event", event.Type)
	req.Header.Set("X-SalesEngine-Tenant", event.TenantID)

	// HMAC-SHA256 signing if secret is configured
	if channel.Secret != "" {
		mac := hmac.New(sha256.New, []byte(channel.Secret))
		mac.Write(body)
		sig := hex.EncodeToString(mac.Sum(nil))
		req.Header.Set("X-SalesEngine-Signature", "sha256="+sig)
	}

	return sendWithRetries(d.client, req, channel.URL)
}

// ── Slack Channel Driver ─────────────────────────────────────

// SlackChannelDriver posts a human-readable summary of the event to
// a Slack incoming webhook.
type SlackChannelDriver struct {
	client *http.Client
}

// Kind returns ChannelSlack.
func (d *SlackChannelDriver) Kind() models.ChannelKind {
	return models.ChannelSlack
}

// Send posts a {"text": ...} payload to the incoming webhook URL.
func (d *SlackChannelDriver) Send(ctx context.Context, channel *models.NotificationChannel, event Event) error {
	payload := map[string]string{"text": slackText(event)}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, channel.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return sendWithRetries(d.client, req, channel.URL)
}

// slackText renders the event as a short Slack message.
func slackText(event Event) string {
	text := fmt.Sprintf("*%s*", event.Type)
	if event.TaskType != "" {
		text += fmt.Sprintf(" — task `%s`", event.TaskType)
	}
	if event.StepID != "" {
		text += fmt.Sprintf(" (`%s`)", event.StepID)
	}
	if event.MediaBuyID != "" {
		text += fmt.Sprintf(" for media buy `%s`", event.MediaBuyID)
	}
	if event.Priority != "" {
		text += fmt.Sprintf(", priority %s", event.Priority)
	}
	if event.DueBy != nil {
		text += fmt.Sprintf(", due %s", event.DueBy.Format(time.RFC3339))
	}
	return text
}

// ── HTTP Helpers ─────────────────────────────────────────────

// sendWithRetries sends an HTTP request with up to 3 attempts.
func sendWithRetries(client *http.Client, req *http.Request, url string) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt*2) * time.Second)
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	return fmt.Errorf("notification failed after 3 attempts: %w", lastErr)
}
