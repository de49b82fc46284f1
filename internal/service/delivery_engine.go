package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/observability"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/provider"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/ratelimit"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/repository"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/retry"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/signing"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// TestEvent is sent by SendTestEvent; endpoints need not subscribe to it.
const TestEvent = "webhook.test"

const (
	defaultWebhookFanOut = 16
	defaultPendingGrace  = time.Minute
)

type DeliveryEngineConfig struct {
	Policy retry.Policy
	// AutoRetry parks transient failures as retrying for the scanner instead of failing them.
	AutoRetry bool
	// FanOut bounds concurrent dispatches across all triggers.
	FanOut int
	// PendingGrace is how long a pending delivery may go unsent before the scanner takes it over.
	// It must exceed the webhook timeout.
	PendingGrace time.Duration
}

// EndpointUpdate carries owner-editable endpoint fields; nil means unchanged.
type EndpointUpdate struct {
	URL    *string
	Events []string
	Active *bool
}

// DeliveryEngine registers webhook endpoints and delivers signed events to them.
//
// A delivery is dispatched by at most one goroutine of this process at a time: the trigger
// path, manual retries and the retry scanner all claim the delivery id first.
type DeliveryEngine struct {
	endpoints  repository.EndpointRepository
	deliveries repository.DeliveryRepository
	sender     provider.WebhookSender
	limiter    ratelimit.RateLimiter
	notifier   *OwnerNotifier
	logger     *zap.Logger
	metrics    *observability.Metrics

	policy    retry.Policy
	autoRetry bool
	grace     time.Duration
	fanOut    *semaphore.Weighted
	fanOutMax int
	inflight  inflightSet
	bg        *background

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDeliveryEngine(
	endpoints repository.EndpointRepository,
	deliveries repository.DeliveryRepository,
	sender provider.WebhookSender,
	limiter ratelimit.RateLimiter,
	notifier *OwnerNotifier,
	cfg DeliveryEngineConfig,
	logger *zap.Logger,
) (*DeliveryEngine, error) {
	if endpoints == nil {
		return nil, fmt.Errorf("endpoint repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("webhook sender is required")
	}
	if cfg.Policy.MaxAttempts < 1 {
		cfg.Policy = retry.NewPolicy(5, 0, 0)
	}
	if cfg.FanOut < 1 {
		cfg.FanOut = defaultWebhookFanOut
	}
	if cfg.PendingGrace <= 0 {
		cfg.PendingGrace = defaultPendingGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryEngine{
		endpoints:  endpoints,
		deliveries: deliveries,
		sender:     sender,
		limiter:    limiter,
		notifier:   notifier,
		logger:     logger,
		policy:     cfg.Policy,
		autoRetry:  cfg.AutoRetry,
		grace:      cfg.PendingGrace,
		fanOut:     semaphore.NewWeighted(int64(cfg.FanOut)),
		fanOutMax:  cfg.FanOut,
		bg:         newBackground(),
		now:        time.Now,
		sleep:      sleepContext,
	}, nil
}

func (e *DeliveryEngine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// Shutdown waits for fire-and-forget fan-outs started by TriggerForOwner.
func (e *DeliveryEngine) Shutdown(ctx context.Context) error {
	return e.bg.Shutdown(ctx)
}

// RegisterEndpoint validates and stores a new active endpoint. An empty secret is generated.
func (e *DeliveryEngine) RegisterEndpoint(ctx context.Context, ownerID, rawURL string, events []string, secret string) (*domain.Endpoint, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: ownerId is required", domain.ErrValidation)
	}
	endpointURL, err := domain.NormalizeEndpointURL(rawURL)
	if err != nil {
		return nil, err
	}
	normalized, err := domain.NormalizeEvents(events)
	if err != nil {
		return nil, err
	}

	secret = strings.TrimSpace(secret)
	if secret == "" {
		secret, err = signing.GenerateSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate endpoint secret: %w", err)
		}
	}

	now := e.now().UTC()
	endpoint := &domain.Endpoint{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		URL:       endpointURL,
		Events:    normalized,
		Secret:    secret,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.endpoints.Create(ctx, endpoint); err != nil {
		return nil, fmt.Errorf("failed to create endpoint: %w", err)
	}

	observability.WithContextLogger(e.logger, ctx).Info("webhook endpoint registered",
		zap.String("endpointId", endpoint.ID),
		zap.String("ownerId", ownerID),
		zap.Strings("events", normalized),
	)
	return endpoint, nil
}

func (e *DeliveryEngine) GetEndpoint(ctx context.Context, endpointID, ownerID string) (*domain.Endpoint, error) {
	endpoint, err := e.endpoints.GetByID(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	if endpoint.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return endpoint, nil
}

func (e *DeliveryEngine) UpdateEndpoint(ctx context.Context, endpointID, ownerID string, update EndpointUpdate) (*domain.Endpoint, error) {
	endpoint, err := e.GetEndpoint(ctx, endpointID, ownerID)
	if err != nil {
		return nil, err
	}

	if update.URL != nil {
		endpoint.URL, err = domain.NormalizeEndpointURL(*update.URL)
		if err != nil {
			return nil, err
		}
	}
	if update.Events != nil {
		endpoint.Events, err = domain.NormalizeEvents(update.Events)
		if err != nil {
			return nil, err
		}
	}
	if update.Active != nil {
		endpoint.Active = *update.Active
	}
	endpoint.UpdatedAt = e.now().UTC()

	if err := e.endpoints.Update(ctx, endpoint); err != nil {
		return nil, fmt.Errorf("failed to update endpoint: %w", err)
	}
	return endpoint, nil
}

// DeleteEndpoint removes the registration; its delivery history is kept.
func (e *DeliveryEngine) DeleteEndpoint(ctx context.Context, endpointID, ownerID string) error {
	if _, err := e.GetEndpoint(ctx, endpointID, ownerID); err != nil {
		return err
	}
	return e.endpoints.Delete(ctx, endpointID)
}

func (e *DeliveryEngine) ListEndpoints(ctx context.Context, ownerID string) ([]domain.Endpoint, error) {
	return e.endpoints.ListByOwner(ctx, ownerID)
}

// Deliver records and dispatches one event to one endpoint. The endpoint must be active and
// subscribed. A failed dispatch is not an error: it is recorded on the returned delivery.
func (e *DeliveryEngine) Deliver(ctx context.Context, endpoint *domain.Endpoint, event string, payload any) (*domain.Delivery, error) {
	event = strings.ToLower(strings.TrimSpace(event))
	if event == "" {
		return nil, fmt.Errorf("%w: event is required", domain.ErrValidation)
	}
	if err := endpoint.CheckEligible(event); err != nil {
		return nil, err
	}
	return e.deliver(ctx, endpoint, event, payload)
}

// TriggerForOwner fans event out to every active subscribed endpoint of the owner and
// returns how many deliveries were started. Dispatch happens in the background; one
// endpoint failing has no effect on the others.
func (e *DeliveryEngine) TriggerForOwner(ctx context.Context, ownerID, event string, payload any) (int, error) {
	event = strings.ToLower(strings.TrimSpace(event))
	if strings.TrimSpace(ownerID) == "" || event == "" {
		return 0, fmt.Errorf("%w: ownerId and event are required", domain.ErrValidation)
	}

	endpoints, err := e.endpoints.ListActiveByOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to list endpoints: %w", err)
	}

	started := 0
	for i := range endpoints {
		endpoint := endpoints[i]
		if !endpoint.Subscribes(event) {
			continue
		}
		started++

		e.bg.Go(ctx, func(ctx context.Context) {
			if err := e.fanOut.Acquire(ctx, 1); err != nil {
				return
			}
			defer e.fanOut.Release(1)

			if _, err := e.Deliver(ctx, &endpoint, event, payload); err != nil {
				observability.WithContextLogger(e.logger, ctx).Error("webhook fan-out delivery failed",
					zap.String("endpointId", endpoint.ID),
					zap.String("event", event),
					zap.Error(err),
				)
			}
		})
	}
	return started, nil
}

// SendTestEvent dispatches a webhook.test event to an active endpoint and tells the owner
// how it went.
func (e *DeliveryEngine) SendTestEvent(ctx context.Context, endpointID, ownerID string) (*domain.Delivery, error) {
	endpoint, err := e.GetEndpoint(ctx, endpointID, ownerID)
	if err != nil {
		return nil, err
	}
	if !endpoint.Active {
		return nil, fmt.Errorf("%w: endpoint %s is inactive", domain.ErrEndpointIneligible, endpoint.ID)
	}

	payload := map[string]any{
		"event":      TestEvent,
		"endpointId": endpoint.ID,
		"message":    "This is a test webhook delivery",
		"timestamp":  e.now().UTC().Format(time.RFC3339),
	}
	delivery, err := e.deliver(ctx, endpoint, TestEvent, payload)
	if err != nil {
		return nil, err
	}

	e.notifier.WebhookTested(ctx, endpoint, delivery)
	return delivery, nil
}

// RetryDelivery re-dispatches a failed delivery in place after the policy's backoff.
// The delivery is parked as retrying before the wait, so if the wait is interrupted the
// retry scanner finishes it.
func (e *DeliveryEngine) RetryDelivery(ctx context.Context, deliveryID, ownerID string, maxRetries int) (*domain.Delivery, error) {
	delivery, err := e.GetDelivery(ctx, deliveryID, ownerID)
	if err != nil {
		return nil, err
	}
	return e.retry(ctx, delivery, maxRetries)
}

// RetryFailedDeliveries retries every failed delivery of an endpoint that has attempts left.
// Retries run independently; ones that could not be retried are logged and left out.
func (e *DeliveryEngine) RetryFailedDeliveries(ctx context.Context, endpointID, ownerID string, maxRetries int) ([]domain.Delivery, error) {
	if _, err := e.GetEndpoint(ctx, endpointID, ownerID); err != nil {
		return nil, err
	}
	maxRetries = e.maxRetries(maxRetries)

	failed, err := e.deliveries.ListRetryable(ctx, endpointID, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable deliveries: %w", err)
	}

	retried := make([]*domain.Delivery, len(failed))
	var g errgroup.Group
	g.SetLimit(e.fanOutMax)
	for i := range failed {
		g.Go(func() error {
			delivery, err := e.retry(ctx, &failed[i], maxRetries)
			if err != nil {
				observability.WithContextLogger(e.logger, ctx).Warn("delivery retry skipped",
					zap.String("deliveryId", failed[i].ID),
					zap.Error(err),
				)
				return nil
			}
			retried[i] = delivery
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.Delivery, 0, len(retried))
	for _, delivery := range retried {
		if delivery != nil {
			out = append(out, *delivery)
		}
	}
	return out, nil
}

func (e *DeliveryEngine) GetDelivery(ctx context.Context, deliveryID, ownerID string) (*domain.Delivery, error) {
	delivery, err := e.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if delivery.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return delivery, nil
}

func (e *DeliveryEngine) ListDeliveries(ctx context.Context, endpointID, ownerID string, limit int) ([]domain.Delivery, error) {
	if _, err := e.GetEndpoint(ctx, endpointID, ownerID); err != nil {
		return nil, err
	}
	return e.deliveries.ListByEndpoint(ctx, endpointID, limit)
}

// DispatchDue sends retrying deliveries whose backoff has elapsed, and pending deliveries whose
// first dispatch never completed, and returns how many were attempted. Deliveries held by
// another dispatcher are skipped.
func (e *DeliveryEngine) DispatchDue(ctx context.Context, limit int) (int, error) {
	now := e.now().UTC()
	due, err := e.deliveries.GetStalePending(ctx, now.Add(-e.grace), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch stale pending deliveries: %w", err)
	}
	if limit <= 0 || len(due) < limit {
		retrying, err := e.deliveries.GetDueForRetry(ctx, now, limit-len(due))
		if err != nil {
			return 0, fmt.Errorf("failed to fetch due deliveries: %w", err)
		}
		due = append(due, retrying...)
	}

	attempted := 0
	for i := range due {
		if ctx.Err() != nil {
			return attempted, nil
		}
		delivery := &due[i]

		release, ok := e.inflight.Claim(delivery.ID)
		if !ok {
			continue
		}
		err := e.dispatchDue(ctx, delivery)
		release()
		if err != nil {
			e.logger.Error("failed to dispatch due delivery",
				zap.String("deliveryId", delivery.ID),
				zap.Error(err),
			)
			continue
		}
		attempted++
	}
	return attempted, nil
}

func (e *DeliveryEngine) dispatchDue(ctx context.Context, delivery *domain.Delivery) error {
	// Reload under the claim: the listed copy may predate another dispatcher's write.
	current, err := e.deliveries.GetByID(ctx, delivery.ID)
	if err != nil {
		return err
	}
	switch current.Status {
	case domain.DeliveryStatusRetrying:
	case domain.DeliveryStatusPending:
		if current.CreatedAt.After(e.now().UTC().Add(-e.grace)) {
			return nil
		}
	default:
		return nil
	}

	endpoint, err := e.endpoints.GetByID(ctx, current.EndpointID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if endpoint == nil || !endpoint.Active {
		return e.abandon(ctx, current, "endpoint was deleted or deactivated")
	}

	return e.dispatch(ctx, endpoint, current)
}

func (e *DeliveryEngine) retry(ctx context.Context, delivery *domain.Delivery, maxRetries int) (*domain.Delivery, error) {
	maxRetries = e.maxRetries(maxRetries)

	release, ok := e.inflight.Claim(delivery.ID)
	if !ok {
		return nil, fmt.Errorf("%w: delivery %s is already being dispatched", domain.ErrConflict, delivery.ID)
	}
	defer release()

	if err := delivery.CheckRetryable(maxRetries); err != nil {
		return nil, err
	}

	endpoint, err := e.endpoints.GetByID(ctx, delivery.EndpointID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: endpoint %s no longer exists", domain.ErrEndpointIneligible, delivery.EndpointID)
	}
	if err != nil {
		return nil, err
	}
	if !endpoint.Active {
		return nil, fmt.Errorf("%w: endpoint %s is inactive", domain.ErrEndpointIneligible, endpoint.ID)
	}

	delay := e.policy.NextDelay(delivery.AttemptCount)
	nextRetryAt := e.now().UTC().Add(delay)
	if err := delivery.Transition(domain.DeliveryStatusRetrying); err != nil {
		return nil, err
	}
	delivery.MaxRetries = maxRetries
	delivery.NextRetryAt = &nextRetryAt
	delivery.UpdatedAt = e.now().UTC()
	if err := e.deliveries.Update(ctx, delivery); err != nil {
		return nil, fmt.Errorf("failed to schedule delivery retry: %w", err)
	}
	e.metrics.IncRetryScheduled(observability.PipelineWebhook)

	if err := e.sleep(ctx, delay); err != nil {
		return nil, err
	}

	if err := e.dispatch(ctx, endpoint, delivery); err != nil {
		return nil, err
	}
	return delivery, nil
}

func (e *DeliveryEngine) deliver(ctx context.Context, endpoint *domain.Endpoint, event string, payload any) (*domain.Delivery, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not serializable: %v", domain.ErrValidation, err)
	}

	now := e.now().UTC()
	delivery := &domain.Delivery{
		ID:         uuid.NewString(),
		EndpointID: endpoint.ID,
		OwnerID:    endpoint.OwnerID,
		Event:      event,
		Payload:    string(body),
		Status:     domain.DeliveryStatusPending,
		MaxRetries: e.policy.MaxAttempts,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.deliveries.Create(ctx, delivery); err != nil {
		return nil, fmt.Errorf("failed to create delivery: %w", err)
	}

	release, _ := e.inflight.Claim(delivery.ID)
	defer release()

	if err := e.dispatch(ctx, endpoint, delivery); err != nil {
		return nil, err
	}
	return delivery, nil
}

// dispatch makes one attempt and persists its outcome. The caller holds the claim on the
// delivery. Persistence failures and a cancelled limiter wait are returned as errors.
func (e *DeliveryEngine) dispatch(ctx context.Context, endpoint *domain.Endpoint, delivery *domain.Delivery) error {
	logger := observability.WithContextLogger(e.logger, ctx).With(
		zap.String("deliveryId", delivery.ID),
		zap.String("endpointId", endpoint.ID),
		zap.String("event", delivery.Event),
	)

	e.metrics.IncInFlight(observability.PipelineWebhook)
	defer e.metrics.DecInFlight(observability.PipelineWebhook)

	if e.limiter != nil {
		err := e.limiter.Wait(ctx, ratelimit.WebhookKey(endpoint.ID))
		switch {
		case err == nil:
		case errors.Is(err, ratelimit.ErrUnavailable):
			logger.Warn("rate limiter unavailable, dispatching without it", zap.Error(err))
		default:
			return err
		}
	}

	body := []byte(delivery.Payload)
	attemptAt := e.now().UTC()
	response, sendErr := e.sender.Send(ctx, provider.WebhookRequest{
		URL:        endpoint.URL,
		EndpointID: endpoint.ID,
		Event:      delivery.Event,
		Signature:  signing.Sign(body, endpoint.Secret),
		Timestamp:  attemptAt,
		Body:       body,
	})
	e.metrics.ObserveWebhookDispatch(e.now().Sub(attemptAt))

	if err := e.applyAttempt(delivery, attemptAt, response, sendErr); err != nil {
		return err
	}
	if err := e.deliveries.Update(ctx, delivery); err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}

	success := sendErr == nil
	if err := e.endpoints.RecordDispatch(ctx, endpoint.ID, success); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.Warn("failed to update endpoint failure count", zap.Error(err))
	}
	e.metrics.IncWebhookDelivery(success)

	if success {
		logger.Info("webhook delivered", zap.Int("attempt", delivery.AttemptCount))
	} else {
		logger.Warn("webhook delivery failed",
			zap.Int("attempt", delivery.AttemptCount),
			zap.String("status", delivery.Status.String()),
			zap.Error(sendErr),
		)
	}
	return nil
}

func (e *DeliveryEngine) applyAttempt(delivery *domain.Delivery, at time.Time, response *provider.ProviderResponse, sendErr error) error {
	delivery.AttemptCount++
	delivery.LastAttemptAt = &at
	delivery.NextRetryAt = nil
	delivery.UpdatedAt = at
	delivery.LastStatusCode = nil
	delivery.LastResponseBody = nil
	delivery.LastError = nil

	if response != nil {
		if response.StatusCode > 0 {
			code := response.StatusCode
			delivery.LastStatusCode = &code
		}
		if response.Body != "" {
			delivery.LastResponseBody = stringPtr(domain.TruncateBody(response.Body))
		}
	}

	if sendErr == nil {
		return delivery.Transition(domain.DeliveryStatusDelivered)
	}

	delivery.LastError = stringPtr(sendErr.Error())
	if code, ok := provider.StatusCodeOf(sendErr); ok && delivery.LastStatusCode == nil {
		delivery.LastStatusCode = &code
	}

	if e.autoRetry && provider.IsTransient(sendErr) && retry.ShouldRetry(delivery.AttemptCount, delivery.MaxRetries) {
		next := at.Add(e.policy.NextDelay(delivery.AttemptCount))
		delivery.NextRetryAt = &next
		e.metrics.IncRetryScheduled(observability.PipelineWebhook)
		return delivery.Transition(domain.DeliveryStatusRetrying)
	}
	return delivery.Transition(domain.DeliveryStatusFailed)
}

func (e *DeliveryEngine) abandon(ctx context.Context, delivery *domain.Delivery, reason string) error {
	if err := delivery.Transition(domain.DeliveryStatusFailed); err != nil {
		return err
	}
	delivery.NextRetryAt = nil
	delivery.LastError = stringPtr(reason)
	delivery.UpdatedAt = e.now().UTC()
	return e.deliveries.Update(ctx, delivery)
}

func (e *DeliveryEngine) maxRetries(requested int) int {
	if requested < 1 {
		return e.policy.MaxAttempts
	}
	return requested
}
