package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/meshwork-ai/a2a-go/a2a"
)

// PushNotifier POSTs task events to a task's registered webhook. Delivery
// is at-least-once, best-effort, and never blocks the caller: each event
// is delivered from its own goroutine with exponential backoff.
type PushNotifier struct {
	store  TaskStore
	client *http.Client
	logger *zap.Logger

	initialInterval time.Duration
	maxInterval     time.Duration
	maxAttempts     int
}

// NewPushNotifier creates a notifier reading configs from the store.
func NewPushNotifier(store TaskStore, cfg *Config, logger *zap.Logger) *PushNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushNotifier{
		store:           store,
		client:          &http.Client{Timeout: 30 * time.Second},
		logger:          logger.Named("push"),
		initialInterval: cfg.PushRetryInitialInterval,
		maxInterval:     cfg.PushRetryMaxInterval,
		maxAttempts:     cfg.PushMaxAttempts,
	}
}

// Notify delivers the event payload to the task's webhook, if one is
// registered. Returns immediately; delivery happens in the background.
func (n *PushNotifier) Notify(ctx context.Context, taskID string, event any) {
	config, err := n.store.PushConfig(ctx, taskID)
	if err != nil || config == nil {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("failed to encode push payload",
			zap.String("taskID", taskID), zap.Error(err))
		return
	}

	go n.deliver(taskID, *config, body)
}

func (n *PushNotifier) deliver(taskID string, config a2a.PushNotificationConfig, body []byte) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = n.initialInterval
	policy.MaxInterval = n.maxInterval
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	attempts := uint64(n.maxAttempts)
	if attempts == 0 {
		attempts = 1
	}

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := n.post(config, body); err != nil {
			n.logger.Debug("push delivery attempt failed",
				zap.String("taskID", taskID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		return nil
	}, backoff.WithMaxRetries(policy, attempts-1))

	if err != nil {
		n.logger.Warn("push delivery abandoned",
			zap.String("taskID", taskID),
			zap.String("url", config.URL),
			zap.Int("attempts", attempt),
			zap.Error(err))
	}
}

func (n *PushNotifier) post(config a2a.PushNotificationConfig, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, config.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if config.Token != nil {
		req.Header.Set("Authorization", "Bearer "+*config.Token)
	} else if auth := config.Authentication; auth != nil && auth.Credentials != nil {
		scheme := "Bearer"
		if len(auth.Schemes) > 0 {
			scheme = auth.Schemes[0]
		}
		req.Header.Set("Authorization", scheme+" "+*auth.Credentials)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
