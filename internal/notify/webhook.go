package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"enertrade/internal/config"
	"enertrade/internal/metrics"
	"enertrade/pkg/types"
)

// Webhook POSTs notification envelopes to an external gateway. Outbound
// calls are rate-limited with a token bucket, guarded by a circuit breaker
// so a dead endpoint fails fast, and signed with HMAC-SHA256 so the gateway
// can verify the sender.
type Webhook struct {
	http    *resty.Client
	secret  []byte
	bucket  *tokenBucket
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewWebhook creates the gateway sink from config. Timeout defaults to 5s,
// the rate limit to 5 calls/sec with a burst of 10.
func NewWebhook(cfg config.NotifyConfig, collector *metrics.Collector, logger *slog.Logger) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rate := cfg.RatePerSec
	if rate <= 0 {
		rate = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}

	log := logger.With("component", "notify")

	httpClient := resty.New().
		SetBaseURL(cfg.WebhookURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "notify-webhook",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("webhook breaker state change", "from", from.String(), "to", to.String())
		},
	})

	return &Webhook{
		http:    httpClient,
		secret:  []byte(cfg.Secret),
		bucket:  newTokenBucket(burst, rate),
		breaker: breaker,
		metrics: collector,
		logger:  log,
	}
}

// Notify posts one envelope to the gateway. Users without any configured
// channel are skipped.
func (w *Webhook) Notify(ctx context.Context, userID, kind string, payload any, prefs *types.UserPreferences) error {
	if prefs == nil || len(prefs.Channels) == 0 {
		w.logger.Debug("no channels configured, skipping", "user_id", userID, "kind", kind)
		w.metrics.RecordNotification("webhook", "skipped")
		return nil
	}

	body, err := json.Marshal(envelope{
		UserID:   userID,
		Kind:     kind,
		Channels: prefs.Channels,
		Contacts: prefs.Contacts,
		Payload:  payload,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: marshal envelope: %w", err)
	}

	if err := w.bucket.wait(ctx); err != nil {
		w.metrics.RecordNotification("webhook", "failed")
		return fmt.Errorf("notify: rate limit: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	_, err = w.breaker.Execute(func() (any, error) {
		resp, err := w.http.R().
			SetContext(ctx).
			SetHeader("X-Enertrade-Timestamp", timestamp).
			SetHeader("X-Enertrade-Signature", w.sign(timestamp, body)).
			SetBody(body).
			Post("")
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusMultipleChoices {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
		}
		return nil, nil
	})
	if err != nil {
		w.metrics.RecordNotification("webhook", "failed")
		return fmt.Errorf("notify: post webhook: %w", err)
	}

	w.metrics.RecordNotification("webhook", "delivered")
	w.logger.Debug("notification delivered", "user_id", userID, "kind", kind)
	return nil
}

// sign computes HMAC-SHA256 over "timestamp.body".
func (w *Webhook) sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, w.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// tokenBucket rate-limits outbound gateway calls with continuous refill.
// Callers block in wait() until a token is available or the context ends.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens refilled per second
	last     time.Time
}

func newTokenBucket(capacity, ratePerSecond float64) *tokenBucket {
	return &tokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		last:     time.Now(),
	}
}

func (tb *tokenBucket) wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		tb.tokens += now.Sub(tb.last).Seconds() * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.last = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
