package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	mathrand "math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// repo is the persistence surface required by Service.
type repo interface {
	Create(ctx context.Context, e *Endpoint) error
	Get(ctx context.Context, id uuid.UUID) (*Endpoint, error)
	ListByAgent(ctx context.Context, agentID string) ([]*Endpoint, error)
	ListActiveByAgentAndEvent(ctx context.Context, agentID, event string) ([]*Endpoint, error)
	Delete(ctx context.Context, agentID string, id uuid.UUID) error
	SetActive(ctx context.Context, agentID string, id uuid.UUID, active bool) error
	RotateSecret(ctx context.Context, agentID string, id uuid.UUID, secret string) error
	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, endpointID uuid.UUID, limit int) ([]*Delivery, error)
}

// Service manages webhook endpoints and event dispatching.
type Service struct {
	repo       repo
	httpClient *http.Client
	sem        *semaphore.Weighted
	logger     *zap.Logger
}

// NewService creates a new webhook Service. concurrency bounds the number
// of in-flight deliveries across all agents.
func NewService(repo repo, concurrency int64, timeout time.Duration, logger *zap.Logger) *Service {
	if concurrency <= 0 {
		concurrency = 16
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		repo:       repo,
		httpClient: &http.Client{Timeout: timeout},
		sem:        semaphore.NewWeighted(concurrency),
		logger:     logger,
	}
}

// Register creates a new webhook endpoint with a generated HMAC secret.
func (s *Service) Register(ctx context.Context, agentID string, req RegisterRequest) (*RegisterResult, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate webhook secret: %w", err)
	}

	e := &Endpoint{AgentID: agentID, URL: req.URL, Events: req.Events, Secret: secret}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create webhook endpoint: %w", err)
	}
	return &RegisterResult{Endpoint: e, Secret: secret}, nil
}

// List returns all endpoints owned by an agent.
func (s *Service) List(ctx context.Context, agentID string) ([]*Endpoint, error) {
	return s.repo.ListByAgent(ctx, agentID)
}

// Delete removes an endpoint.
func (s *Service) Delete(ctx context.Context, agentID string, id uuid.UUID) error {
	return s.repo.Delete(ctx, agentID, id)
}

// SetActive toggles an endpoint's active flag.
func (s *Service) SetActive(ctx context.Context, agentID string, id uuid.UUID, active bool) error {
	return s.repo.SetActive(ctx, agentID, id, active)
}

// RotateSecret replaces an endpoint's signing secret and returns the new one.
func (s *Service) RotateSecret(ctx context.Context, agentID string, id uuid.UUID) (string, error) {
	secret, err := generateSecret()
	if err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	if err := s.repo.RotateSecret(ctx, agentID, id, secret); err != nil {
		return "", err
	}
	return secret, nil
}

// Deliveries returns the most recent delivery attempts for an endpoint.
func (s *Service) Deliveries(ctx context.Context, endpointID uuid.UUID, limit int) ([]*Delivery, error) {
	return s.repo.ListDeliveries(ctx, endpointID, limit)
}

// Dispatch fans out event to every active endpoint an agent has registered
// for it. Delivery is best-effort and fire-and-forget: it never blocks the
// caller past enqueueing the background attempt.
func (s *Service) Dispatch(ctx context.Context, agentID, event string, data map[string]any) {
	endpoints, err := s.repo.ListActiveByAgentAndEvent(ctx, agentID, event)
	if err != nil {
		s.logger.Error("webhook: list matching endpoints", zap.Error(err))
		return
	}
	if len(endpoints) == 0 {
		return
	}

	envelope := Envelope{Event: event, Timestamp: time.Now().UTC(), AgentID: agentID, Data: data}
	body, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Error("webhook: marshal envelope", zap.Error(err))
		return
	}

	for _, ep := range endpoints {
		ep := ep
		deliverCtx := context.WithoutCancel(ctx)
		go s.deliver(deliverCtx, ep, event, body)
	}
}

// deliver sends the event to a single endpoint, retrying up to 3 times with
// exponential backoff and jitter. Bounded by the service-wide semaphore so
// a burst of events cannot spawn unbounded concurrent HTTP calls.
func (s *Service) deliver(ctx context.Context, ep *Endpoint, event string, body []byte) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	signature := signPayload(body, ep.Secret)

	const maxAttempts = 4 // the first attempt plus up to 3 retries
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(backoff(attempt - 1))
		}

		success, statusCode, errMsg := s.doDelivery(ctx, ep.URL, body, signature)

		delivery := &Delivery{
			EndpointID:   ep.ID,
			Event:        event,
			StatusCode:   statusCode,
			Attempt:      attempt,
			Success:      success,
			ErrorMessage: errMsg,
		}
		if recordErr := s.repo.RecordDelivery(ctx, delivery); recordErr != nil {
			s.logger.Warn("webhook: record delivery", zap.Error(recordErr))
		}

		if success {
			return
		}

		s.logger.Warn("webhook: delivery failed",
			zap.String("url", ep.URL),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
}

// backoff returns the delay before retry attempt n (1-indexed): 1s, 2s, 4s,
// each with up to 250ms of jitter.
func backoff(n int) time.Duration {
	base := time.Duration(1<<uint(n-1)) * time.Second
	jitter := time.Duration(mathrand.IntN(250)) * time.Millisecond
	return base + jitter
}

func (s *Service) doDelivery(ctx context.Context, url string, body []byte, signature string) (bool, int, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, 0, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, 0, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	errMsg := ""
	if !success {
		errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return success, resp.StatusCode, errMsg
}

// signPayload computes an HMAC-SHA256 signature over a delivery body.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// generateSecret creates a random 32-byte hex-encoded secret.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
