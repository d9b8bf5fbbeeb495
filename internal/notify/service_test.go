package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mediaforge/mediaforge/sales-engine/internal/store"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

// capture records requests received by a test webhook endpoint.
type capture struct {
	mu     sync.Mutex
	bodies [][]byte
	header []http.Header
}

func (c *capture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.header = append(c.header, r.Header.Clone())
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func newNotifyStore(t *testing.T, channels []models.NotificationChannel, slackURL string) *store.MemoryStore {
	t.Helper()
	t.Setenv("SALESENGINE_DATA_DIR", t.TempDir())
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	now := time.Now().UTC()
	if err := s.CreateTenant(context.Background(), &models.Tenant{
		TenantID:             "tenant_1",
		Name:                 "Test Publisher",
		AdServer:             "mock",
		SlackWebhookURL:      slackURL,
		NotificationChannels: channels,
		CreatedAt:            now,
		UpdatedAt:            now,
	}); err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	return s
}

func TestDispatchSignsWebhookPayload(t *testing.T) {
	var rec capture
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	const secret = "whsec_test_0001"
	s := newNotifyStore(t, []models.NotificationChannel{{
		Kind:   models.ChannelWebhook,
		Name:   "ops-hook",
		URL:    srv.URL,
		Secret: secret,
		Active: true,
	}}, "")

	svc := NewService(s)
	svc.Dispatch(context.Background(), "tenant_1", Event{
		Type:     EventTaskCreated,
		StepID:   "step_notify0001",
		TaskType: "compliance_review",
	})

	if rec.count() != 1 {
		t.Fatalf("webhook received %d requests, want 1", rec.count())
	}

	rec.mu.Lock()
	body, hdr := rec.bodies[0], rec.header[0]
	rec.mu.Unlock()

	if got := hdr.Get("X-SalesEngine-Event"); got != EventTaskCreated {
		t.Errorf("X-SalesEngine-Event = %q, want %q", got, EventTaskCreated)
	}
	if got := hdr.Get("X-SalesEngine-Tenant"); got != "tenant_1" {
		t.Errorf("X-SalesEngine-Tenant = %q", got)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if got := hdr.Get("X-SalesEngine-Signature"); got != want {
		t.Errorf("X-SalesEngine-Signature = %q, want %q", got, want)
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if event.StepID != "step_notify0001" || event.TenantID != "tenant_1" {
		t.Errorf("payload = %+v", event)
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp not stamped on dispatch")
	}
}

func TestDispatchFiltersBySubscription(t *testing.T) {
	var rec capture
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	s := newNotifyStore(t, []models.NotificationChannel{{
		Kind:   models.ChannelWebhook,
		Name:   "completed-only",
		URL:    srv.URL,
		Events: []string{EventTaskCompleted},
		Active: true,
	}}, "")

	svc := NewService(s)
	svc.Dispatch(context.Background(), "tenant_1", Event{Type: EventTaskCreated})
	if rec.count() != 0 {
		t.Fatalf("unsubscribed event delivered, got %d requests", rec.count())
	}

	svc.Dispatch(context.Background(), "tenant_1", Event{Type: EventTaskCompleted})
	if rec.count() != 1 {
		t.Fatalf("subscribed event not delivered, got %d requests", rec.count())
	}
}

func TestDispatchSkipsInactiveChannel(t *testing.T) {
	var rec capture
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	s := newNotifyStore(t, []models.NotificationChannel{{
		Kind:   models.ChannelWebhook,
		Name:   "disabled-hook",
		URL:    srv.URL,
		Active: false,
	}}, "")

	svc := NewService(s)
	svc.Dispatch(context.Background(), "tenant_1", Event{Type: EventTaskFailed})
	if rec.count() != 0 {
		t.Fatalf("inactive channel received %d requests, want 0", rec.count())
	}
}

func TestDispatchLegacySlackWebhook(t *testing.T) {
	var rec capture
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	s := newNotifyStore(t, nil, srv.URL)

	svc := NewService(s)
	svc.Dispatch(context.Background(), "tenant_1", Event{
		Type:       EventCreativePending,
		MediaBuyID: "buy_PO1234",
	})

	if rec.count() != 1 {
		t.Fatalf("slack webhook received %d requests, want 1", rec.count())
	}

	rec.mu.Lock()
	body := rec.bodies[0]
	rec.mu.Unlock()

	var payload map[string]string
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal slack payload: %v", err)
	}
	text := payload["text"]
	if text == "" {
		t.Fatal("slack payload has no text")
	}
	for _, want := range []string{EventCreativePending, "buy_PO1234"} {
		if !strings.Contains(text, want) {
			t.Errorf("slack text %q missing %q", text, want)
		}
	}
}
