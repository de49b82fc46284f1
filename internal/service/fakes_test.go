package service

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/provider"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/queue"
)

// fakeBatchRepo keeps copies so the coordinator's in-memory batch never aliases the store.
type fakeBatchRepo struct {
	mu      sync.Mutex
	batches map[string]domain.Batch
	saves   int
	saveFn  func(b *domain.Batch) error
}

func newFakeBatchRepo() *fakeBatchRepo {
	return &fakeBatchRepo{batches: make(map[string]domain.Batch)}
}

func (r *fakeBatchRepo) Create(_ context.Context, b *domain.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b.Version = 1
	r.batches[b.ID] = *cloneBatch(b)
	return nil
}

func (r *fakeBatchRepo) GetByID(_ context.Context, id string) (*domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneBatch(&b), nil
}

func (r *fakeBatchRepo) ListByOwner(_ context.Context, ownerID string, _ int) ([]domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Batch
	for _, b := range r.batches {
		if b.OwnerID == ownerID {
			out = append(out, *cloneBatch(&b))
		}
	}
	slices.SortFunc(out, func(a, b domain.Batch) int { return cmp.Compare(b.ID, a.ID) })
	return out, nil
}

func (r *fakeBatchRepo) ListUnfinished(_ context.Context) ([]domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Batch
	for _, b := range r.batches {
		if !b.Status.IsTerminal() {
			out = append(out, *cloneBatch(&b))
		}
	}
	return out, nil
}

func (r *fakeBatchRepo) Save(_ context.Context, b *domain.Batch, _ ...domain.UnitResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveFn != nil {
		if err := r.saveFn(b); err != nil {
			return err
		}
	}
	r.saves++
	b.Version++
	r.batches[b.ID] = *cloneBatch(b)
	return nil
}

func (r *fakeBatchRepo) get(id string) domain.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.batches[id]
	return *cloneBatch(&b)
}

type fakeExecutionLogRepo struct {
	mu       sync.Mutex
	entries  []domain.ExecutionLog
	createFn func(l *domain.ExecutionLog) error
}

func (r *fakeExecutionLogRepo) Create(_ context.Context, l *domain.ExecutionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createFn != nil {
		if err := r.createFn(l); err != nil {
			return err
		}
	}
	r.entries = append(r.entries, *l)
	return nil
}

func (r *fakeExecutionLogRepo) ListByJob(_ context.Context, jobID string, jobType domain.JobType) ([]domain.ExecutionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ExecutionLog
	for _, l := range r.entries {
		if l.JobID == jobID && l.JobType == jobType {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *fakeExecutionLogRepo) all() []domain.ExecutionLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

type fakeOrderCreator struct {
	mu       sync.Mutex
	calls    int
	createFn func(ctx context.Context, ownerID string, unit domain.OrderUnit) (*domain.OrderRef, error)
}

func (f *fakeOrderCreator) CreateOrder(ctx context.Context, ownerID string, unit domain.OrderUnit) (*domain.OrderRef, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(ctx, ownerID, unit)
	}
	return &domain.OrderRef{ID: "ord-" + strconv.Itoa(n), Reference: "REF-" + strconv.Itoa(n)}, nil
}

func (f *fakeOrderCreator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePriceLookup struct {
	getPriceFn func(ctx context.Context, instrumentID string, date time.Time) (decimal.Decimal, error)
}

func (f *fakePriceLookup) GetPrice(ctx context.Context, instrumentID string, date time.Time) (decimal.Decimal, error) {
	if f.getPriceFn != nil {
		return f.getPriceFn(ctx, instrumentID, date)
	}
	return decimal.NewFromInt(50), nil
}

type fakeMessageSender struct {
	mu       sync.Mutex
	messages []provider.Message
	sendFn   func(msg provider.Message) error
}

func (f *fakeMessageSender) SendMessage(_ context.Context, msg provider.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	if f.sendFn != nil {
		return f.sendFn(msg)
	}
	return nil
}

func (f *fakeMessageSender) templates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, m.Template)
	}
	return out
}

func (f *fakeMessageSender) sentMessages() []provider.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.messages)
}

type fakeEndpointRepo struct {
	mu        sync.Mutex
	endpoints map[string]domain.Endpoint
	// failures mirrors RecordDispatch.
	failures map[string]int
}

func newFakeEndpointRepo(endpoints ...domain.Endpoint) *fakeEndpointRepo {
	r := &fakeEndpointRepo{endpoints: make(map[string]domain.Endpoint), failures: make(map[string]int)}
	for _, e := range endpoints {
		r.endpoints[e.ID] = e
	}
	return r
}

func (r *fakeEndpointRepo) Create(_ context.Context, e *domain.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Version = 1
	r.endpoints[e.ID] = *e
	return nil
}

func (r *fakeEndpointRepo) GetByID(_ context.Context, id string) (*domain.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.endpoints[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.Events = slices.Clone(e.Events)
	return &e, nil
}

func (r *fakeEndpointRepo) Update(_ context.Context, e *domain.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[e.ID]; !ok {
		return domain.ErrNotFound
	}
	e.Version++
	r.endpoints[e.ID] = *e
	return nil
}

func (r *fakeEndpointRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.endpoints, id)
	return nil
}

func (r *fakeEndpointRepo) ListByOwner(_ context.Context, ownerID string) ([]domain.Endpoint, error) {
	return r.list(ownerID, false), nil
}

func (r *fakeEndpointRepo) ListActiveByOwner(_ context.Context, ownerID string) ([]domain.Endpoint, error) {
	return r.list(ownerID, true), nil
}

func (r *fakeEndpointRepo) list(ownerID string, activeOnly bool) []domain.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Endpoint
	for _, e := range r.endpoints {
		if e.OwnerID == ownerID && (!activeOnly || e.Active) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b domain.Endpoint) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (r *fakeEndpointRepo) RecordDispatch(_ context.Context, id string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if success {
		r.failures[id] = 0
	} else {
		r.failures[id]++
	}
	return nil
}

func (r *fakeEndpointRepo) failureCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[id]
}

// fakeDeliveryRepo enforces the same optimistic version check as the gorm repository.
type fakeDeliveryRepo struct {
	mu         sync.Mutex
	deliveries map[string]domain.Delivery
	order      []string
}

func newFakeDeliveryRepo(deliveries ...domain.Delivery) *fakeDeliveryRepo {
	r := &fakeDeliveryRepo{deliveries: make(map[string]domain.Delivery)}
	for _, d := range deliveries {
		if d.Version == 0 {
			d.Version = 1
		}
		r.deliveries[d.ID] = d
		r.order = append(r.order, d.ID)
	}
	return r
}

func (r *fakeDeliveryRepo) Create(_ context.Context, d *domain.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.Version = 1
	r.deliveries[d.ID] = *d
	r.order = append(r.order, d.ID)
	return nil
}

func (r *fakeDeliveryRepo) GetByID(_ context.Context, id string) (*domain.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &d, nil
}

func (r *fakeDeliveryRepo) Update(_ context.Context, d *domain.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.deliveries[d.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != d.Version {
		return domain.ErrConflict
	}
	d.Version++
	r.deliveries[d.ID] = *d
	return nil
}

func (r *fakeDeliveryRepo) ListByEndpoint(_ context.Context, endpointID string, _ int) ([]domain.Delivery, error) {
	return r.filter(func(d domain.Delivery) bool { return d.EndpointID == endpointID }), nil
}

func (r *fakeDeliveryRepo) ListRetryable(_ context.Context, endpointID string, maxRetries int) ([]domain.Delivery, error) {
	return r.filter(func(d domain.Delivery) bool {
		return d.EndpointID == endpointID && d.Status == domain.DeliveryStatusFailed && d.AttemptCount < maxRetries
	}), nil
}

func (r *fakeDeliveryRepo) GetDueForRetry(_ context.Context, now time.Time, _ int) ([]domain.Delivery, error) {
	return r.filter(func(d domain.Delivery) bool {
		return d.Status == domain.DeliveryStatusRetrying && d.NextRetryAt != nil && !d.NextRetryAt.After(now)
	}), nil
}

func (r *fakeDeliveryRepo) GetStalePending(_ context.Context, createdBefore time.Time, _ int) ([]domain.Delivery, error) {
	return r.filter(func(d domain.Delivery) bool {
		return d.Status == domain.DeliveryStatusPending && d.CreatedAt.Before(createdBefore)
	}), nil
}

func (r *fakeDeliveryRepo) filter(keep func(d domain.Delivery) bool) []domain.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Delivery
	for _, id := range r.order {
		if d := r.deliveries[id]; keep(d) {
			out = append(out, d)
		}
	}
	return out
}

func (r *fakeDeliveryRepo) all() []domain.Delivery {
	return r.filter(func(domain.Delivery) bool { return true })
}

type fakeWebhookSender struct {
	mu       sync.Mutex
	requests []provider.WebhookRequest
	sendFn   func(ctx context.Context, req provider.WebhookRequest) (*provider.ProviderResponse, error)
}

func (f *fakeWebhookSender) Send(ctx context.Context, req provider.WebhookRequest) (*provider.ProviderResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	return &provider.ProviderResponse{StatusCode: 200, Body: `{"ok":true}`}, nil
}

func (f *fakeWebhookSender) sent() []provider.WebhookRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.requests)
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(context.Context, string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type fakePlanRepo struct {
	mu    sync.Mutex
	plans map[string]domain.Plan
}

func newFakePlanRepo(plans ...domain.Plan) *fakePlanRepo {
	r := &fakePlanRepo{plans: make(map[string]domain.Plan)}
	for _, p := range plans {
		if p.Version == 0 {
			p.Version = 1
		}
		r.plans[p.ID] = p
	}
	return r
}

func (r *fakePlanRepo) Create(_ context.Context, p *domain.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Version = 1
	r.plans[p.ID] = *p
	return nil
}

func (r *fakePlanRepo) GetByID(_ context.Context, id string) (*domain.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (r *fakePlanRepo) Update(_ context.Context, p *domain.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.plans[p.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != p.Version {
		return domain.ErrConflict
	}
	p.Version++
	r.plans[p.ID] = *p
	return nil
}

func (r *fakePlanRepo) ListByOwner(_ context.Context, ownerID string) ([]domain.Plan, error) {
	return r.filter(func(p domain.Plan) bool { return p.OwnerID == ownerID }), nil
}

func (r *fakePlanRepo) ListDue(_ context.Context, day time.Time) ([]domain.Plan, error) {
	day = domain.DateOf(day)
	return r.filter(func(p domain.Plan) bool {
		return p.Status == domain.PlanStatusActive && p.NextDueDate != nil && p.NextDueDate.Equal(day)
	}), nil
}

func (r *fakePlanRepo) ListFailedDue(_ context.Context, day time.Time, maxFailures int) ([]domain.Plan, error) {
	day = domain.DateOf(day)
	return r.filter(func(p domain.Plan) bool {
		return p.Status == domain.PlanStatusActive && p.NextDueDate != nil && !p.NextDueDate.After(day) &&
			p.LastOutcome != nil && *p.LastOutcome == domain.ExecutionOutcomeFailure &&
			p.ConsecutiveFailures > 0 && p.ConsecutiveFailures < maxFailures
	}), nil
}

func (r *fakePlanRepo) filter(keep func(p domain.Plan) bool) []domain.Plan {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Plan
	for _, p := range r.plans {
		if keep(p) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Plan) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (r *fakePlanRepo) get(id string) domain.Plan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plans[id]
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.EventHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.EventHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
