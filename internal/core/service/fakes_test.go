package service

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-saga/internal/core/domain"
	"github.com/rl1809/order-saga/internal/metrics"
	"github.com/rl1809/order-saga/internal/port"
)

var testLog = zerolog.Nop()

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

// fakeDB stages writes per transaction and applies them on commit, so
// unsynchronized callers lose updates the way a real database would
// without row locks.
type fakeDB struct {
	mu        sync.Mutex
	products  map[int64]domain.Product
	orders    map[int64]domain.PurchaseOrder
	nextID    int64
	commitErr error
	markErr   error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		products: make(map[int64]domain.Product),
		orders:   make(map[int64]domain.PurchaseOrder),
		nextID:   41,
	}
}

func (d *fakeDB) addProduct(id int64, price string, stock int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.products[id] = domain.Product{ID: id, Price: decimal.RequireFromString(price), Stock: stock}
}

func (d *fakeDB) stock(id int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.products[id].Stock
}

func (d *fakeDB) order(id int64) (domain.PurchaseOrder, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.orders[id]
	return o, ok
}

func (d *fakeDB) WithTx(ctx context.Context, fn func(tx port.TxRepository) error) error {
	tx := &fakeTx{
		db:       d,
		products: make(map[int64]domain.Product),
		orders:   make(map[int64]domain.PurchaseOrder),
	}
	if err := fn(tx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.commitErr != nil {
		return d.commitErr
	}
	for id, p := range tx.products {
		d.products[id] = p
	}
	for id, o := range tx.orders {
		d.orders[id] = o
	}
	return nil
}

func (d *fakeDB) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &p, nil
}

func (d *fakeDB) ListProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Product, 0, len(d.products))
	for _, p := range d.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *fakeDB) GetOrder(ctx context.Context, orderID int64) (*domain.PurchaseOrder, error) {
	o, ok := d.order(orderID)
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (d *fakeDB) MarkOrderPublished(ctx context.Context, orderID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.markErr != nil {
		return d.markErr
	}
	o, ok := d.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.Published = true
	d.orders[orderID] = o
	return nil
}

func (d *fakeDB) ListUnpublishedOrders(ctx context.Context, createdBefore time.Time, limit int) ([]domain.PurchaseOrder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []domain.PurchaseOrder
	for id := int64(0); id <= d.nextID && len(out) < limit; id++ {
		o, ok := d.orders[id]
		if ok && !o.Published && o.Status == domain.OrderStatusCreated && o.CreatedAt.Before(createdBefore) {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeTx struct {
	db       *fakeDB
	products map[int64]domain.Product
	orders   map[int64]domain.PurchaseOrder
}

func (t *fakeTx) product(id int64) (domain.Product, bool) {
	if p, ok := t.products[id]; ok {
		return p, true
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	p, ok := t.db.products[id]
	return p, ok
}

func (t *fakeTx) GetProductForUpdate(ctx context.Context, productID int64) (*domain.Product, error) {
	p, ok := t.product(productID)
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	runtime.Gosched()
	return &p, nil
}

func (t *fakeTx) AdjustStock(ctx context.Context, productID int64, delta int) error {
	p, ok := t.product(productID)
	if !ok {
		return domain.ErrProductNotFound
	}
	if p.Stock+delta < 0 {
		return domain.ErrInsufficientStock
	}
	p.Stock += delta
	t.products[productID] = p
	return nil
}

func (t *fakeTx) InsertOrder(ctx context.Context, o *domain.PurchaseOrder) error {
	t.db.mu.Lock()
	t.db.nextID++
	o.ID = t.db.nextID
	t.db.mu.Unlock()

	t.orders[o.ID] = *o
	return nil
}

func (t *fakeTx) CancelOrder(ctx context.Context, orderID int64) (bool, error) {
	o, ok := t.orders[orderID]
	if !ok {
		o, ok = t.db.order(orderID)
	}
	if !ok || o.Status != domain.OrderStatusCreated {
		return false, nil
	}
	o.Status = domain.OrderStatusCanceled
	t.orders[orderID] = o
	return true, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
	leases   []time.Duration
	err      error
	relErr   error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, lease, wait time.Duration) (port.Lock, error) {
	if l.err != nil {
		return nil, l.err
	}
	deadline := time.Now().Add(wait)
	for {
		l.mu.Lock()
		if !l.held[key] {
			l.held[key] = true
			l.acquired = append(l.acquired, key)
			l.leases = append(l.leases, lease)
			l.mu.Unlock()
			return &fakeLock{locker: l, key: key}, nil
		}
		l.mu.Unlock()

		if !time.Now().Before(deadline) {
			return nil, domain.ErrLockTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

func (l *fakeLocker) isHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}

type fakeLock struct {
	locker *fakeLocker
	key    string
}

func (f *fakeLock) Key() string { return f.key }

func (f *fakeLock) Release(ctx context.Context) error {
	f.locker.mu.Lock()
	defer f.locker.mu.Unlock()
	delete(f.locker.held, f.key)
	return f.locker.relErr
}

type fakeIdem struct {
	mu        sync.Mutex
	keys      map[string]time.Duration
	existsErr  error
	markErr    error
	releaseErr error
	released   []string
}

func newFakeIdem() *fakeIdem {
	return &fakeIdem{keys: make(map[string]time.Duration)}
}

func (f *fakeIdem) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.keys[key]
	return ok, nil
}

func (f *fakeIdem) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return false, f.markErr
	}
	if _, ok := f.keys[key]; ok {
		return false, nil
	}
	f.keys[key] = ttl
	return true, nil
}

func (f *fakeIdem) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return f.releaseErr
	}
	delete(f.keys, key)
	f.released = append(f.released, key)
	return nil
}

func (f *fakeIdem) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.keys[key]
	return ok
}

type fakePublisher struct {
	mu         sync.Mutex
	created    []domain.OrderCreatedEvent
	retried    []domain.OrderCreatedEvent
	attempts   []int
	restores   []domain.StockRestoreCommand
	parked     []domain.StockRestoreCommand
	createdErr error
	retryErr   error
	restoreErr error
	parkErr    error
	onCreated  func(domain.OrderCreatedEvent)
}

func (p *fakePublisher) PublishOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error {
	if p.onCreated != nil {
		p.onCreated(event)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createdErr != nil {
		return p.createdErr
	}
	p.created = append(p.created, event)
	return nil
}

func (p *fakePublisher) PublishOrderRetry(ctx context.Context, event domain.OrderCreatedEvent, attempt int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retryErr != nil {
		return p.retryErr
	}
	p.retried = append(p.retried, event)
	p.attempts = append(p.attempts, attempt)
	return nil
}

func (p *fakePublisher) PublishStockRestore(ctx context.Context, cmd domain.StockRestoreCommand) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.restoreErr != nil {
		return p.restoreErr
	}
	p.restores = append(p.restores, cmd)
	return nil
}

func (p *fakePublisher) PublishStockRestoreRetry(ctx context.Context, cmd domain.StockRestoreCommand) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.parkErr != nil {
		return p.parkErr
	}
	p.parked = append(p.parked, cmd)
	return nil
}

type processorFunc func(ctx context.Context, event domain.OrderCreatedEvent) error

func (f processorFunc) Process(ctx context.Context, event domain.OrderCreatedEvent) error {
	return f(ctx, event)
}

type countingProcessor struct {
	mu    sync.Mutex
	calls map[int64]int
}

func (c *countingProcessor) Process(ctx context.Context, event domain.OrderCreatedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[int64]int)
	}
	c.calls[event.OrderID]++
	return nil
}

type fakeDLQ struct {
	mu          sync.Mutex
	messages    []port.DeadLetterMessage
	republished map[port.ReprocessTarget][]port.DeadLetterMessage
	failOn      func(port.DeadLetterMessage) bool
	countErr    error
}

func newFakeDLQ(n int) *fakeDLQ {
	q := &fakeDLQ{republished: make(map[port.ReprocessTarget][]port.DeadLetterMessage)}
	for i := 0; i < n; i++ {
		q.messages = append(q.messages, port.DeadLetterMessage{
			MessageID:   string(rune('a' + i)),
			ContentType: "application/json",
			Body:        []byte(`{"orderId":1}`),
		})
	}
	return q
}

func (q *fakeDLQ) Name() string { return "orders.created.dlq" }

func (q *fakeDLQ) Count(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.countErr != nil {
		return 0, q.countErr
	}
	return len(q.messages), nil
}

func (q *fakeDLQ) Receive(ctx context.Context, timeout time.Duration) (*port.DeadLetterMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return nil, nil
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return &msg, nil
}

func (q *fakeDLQ) Republish(ctx context.Context, msg port.DeadLetterMessage, target port.ReprocessTarget) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failOn != nil && q.failOn(msg) {
		return errors.New("channel closed")
	}
	q.republished[target] = append(q.republished[target], msg)
	return nil
}
