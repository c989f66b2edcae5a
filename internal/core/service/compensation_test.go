package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rl1809/order-saga/internal/core/domain"
)

func TestHandleStockRestore_RestoresAndCancels(t *testing.T) {
	db := newFakeDB()
	db.addProduct(1, "10", 5)
	svc := newTestOrderService(db, newFakeLocker(), &fakePublisher{})
	order, err := svc.CreateOrder(context.Background(), 1, 1, 2)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	m := newTestMetrics()
	h := NewCompensationHandler(db, newFakeLocker(), newFakeIdem(), &fakePublisher{}, m, testLockOpts, time.Hour, testLog)

	applied, err := h.HandleStockRestore(context.Background(), order.CreatedEvent().RestoreCommand())
	if err != nil || !applied {
		t.Fatalf("expected applied, got %v, %v", applied, err)
	}

	stored, _ := db.order(order.ID)
	if stored.Status != domain.OrderStatusCanceled {
		t.Errorf("expected CANCELED, got %s", stored.Status)
	}
	if got := db.stock(1); got != 5 {
		t.Errorf("expected stock restored to 5, got %d", got)
	}
	if got := testutil.ToFloat64(m.StockRestores); got != 1 {
		t.Errorf("restores = %v, want 1", got)
	}
}

func TestHandleStockRestore_DuplicateIsNoop(t *testing.T) {
	db := newFakeDB()
	db.addProduct(1, "10", 5)
	svc := newTestOrderService(db, newFakeLocker(), &fakePublisher{})
	order, _ := svc.CreateOrder(context.Background(), 1, 1, 2)

	h := NewCompensationHandler(db, newFakeLocker(), newFakeIdem(), &fakePublisher{}, newTestMetrics(), testLockOpts, time.Hour, testLog)
	cmd := order.CreatedEvent().RestoreCommand()

	for i := 0; i < 3; i++ {
		if _, err := h.HandleStockRestore(context.Background(), cmd); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if got := db.stock(1); got != 5 {
		t.Errorf("expected stock 5 after duplicates, got %d", got)
	}
}

func TestHandleStockRestore_StatusGuardWithoutIdempotencyKey(t *testing.T) {
	db := newFakeDB()
	db.addProduct(1, "10", 5)
	svc := newTestOrderService(db, newFakeLocker(), &fakePublisher{})
	order, _ := svc.CreateOrder(context.Background(), 1, 1, 2)

	idem := newFakeIdem()
	idem.existsErr = errors.New("redis down")
	idem.markErr = errors.New("redis down")
	h := NewCompensationHandler(db, newFakeLocker(), idem, &fakePublisher{}, newTestMetrics(), testLockOpts, time.Hour, testLog)
	cmd := order.CreatedEvent().RestoreCommand()

	first, _ := h.HandleStockRestore(context.Background(), cmd)
	second, _ := h.HandleStockRestore(context.Background(), cmd)
	if !first || second {
		t.Errorf("expected only the first restore applied, got %v, %v", first, second)
	}
	if got := db.stock(1); got != 5 {
		t.Errorf("expected stock 5, got %d", got)
	}
}

func TestHandleStockRestore_UnknownOrder(t *testing.T) {
	db := newFakeDB()
	db.addProduct(1, "10", 5)
	h := NewCompensationHandler(db, newFakeLocker(), newFakeIdem(), &fakePublisher{}, newTestMetrics(), testLockOpts, time.Hour, testLog)

	applied, err := h.HandleStockRestore(context.Background(), domain.StockRestoreCommand{OrderID: 404, ProductID: 1, Quantity: 3})
	if err != nil || applied {
		t.Fatalf("expected skip, got %v, %v", applied, err)
	}
	if got := db.stock(1); got != 5 {
		t.Errorf("stock changed for unknown order: %d", got)
	}
}

func TestHandleStockRestore_Malformed(t *testing.T) {
	h := NewCompensationHandler(newFakeDB(), newFakeLocker(), newFakeIdem(), &fakePublisher{}, newTestMetrics(), testLockOpts, time.Hour, testLog)

	_, err := h.HandleStockRestore(context.Background(), domain.StockRestoreCommand{OrderID: 1, ProductID: 1, Quantity: 0})
	if !errors.Is(err, domain.ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestHandleStockRestore_LockContentionParksCommand(t *testing.T) {
	db := newFakeDB()
	db.addProduct(1, "10", 5)
	svc := newTestOrderService(db, newFakeLocker(), &fakePublisher{})
	order, _ := svc.CreateOrder(context.Background(), 1, 1, 2)

	locker := newFakeLocker()
	locker.held["product:1"] = true
	pub := &fakePublisher{}
	m := newTestMetrics()
	h := NewCompensationHandler(db, locker, newFakeIdem(), pub, m,
		LockOptions{Lease: time.Second, Wait: 10 * time.Millisecond}, time.Hour, testLog)
	cmd := order.CreatedEvent().RestoreCommand()

	applied, err := h.HandleStockRestore(context.Background(), cmd)
	if err != nil || applied {
		t.Fatalf("expected deferred restore with nil error, got %v, %v", applied, err)
	}
	if len(pub.parked) != 1 || pub.parked[0] != cmd {
		t.Fatalf("expected command parked for retry, got %+v", pub.parked)
	}
	if got := testutil.ToFloat64(m.StockRestoreRetry); got != 1 {
		t.Errorf("restore retries = %v, want 1", got)
	}
	if stored, _ := db.order(order.ID); stored.Status != domain.OrderStatusCreated {
		t.Errorf("expected order still CREATED, got %s", stored.Status)
	}

	// the parked command comes back once the lock is free
	delete(locker.held, "product:1")
	applied, err = h.HandleStockRestore(context.Background(), pub.parked[0])
	if err != nil || !applied {
		t.Fatalf("expected restore applied on redelivery, got %v, %v", applied, err)
	}
	if got := db.stock(1); got != 5 {
		t.Errorf("expected stock restored to 5, got %d", got)
	}
}

func TestHandleStockRestore_ParkFailureReturnsError(t *testing.T) {
	locker := newFakeLocker()
	locker.held["product:1"] = true
	pub := &fakePublisher{parkErr: errors.New("channel closed")}
	h := NewCompensationHandler(newFakeDB(), locker, newFakeIdem(), pub, newTestMetrics(),
		LockOptions{Lease: time.Second, Wait: 5 * time.Millisecond}, time.Hour, testLog)

	_, err := h.HandleStockRestore(context.Background(), domain.StockRestoreCommand{OrderID: 1, ProductID: 1, Quantity: 1})
	if err == nil {
		t.Fatal("expected error when the command cannot be parked")
	}
	if errors.Is(err, domain.ErrMalformedMessage) {
		t.Errorf("park failure must stay requeueable, got %v", err)
	}
}

func TestHandleStockRestore_UnknownProductDeadLetters(t *testing.T) {
	db := newFakeDB()
	db.addProduct(1, "10", 5)
	svc := newTestOrderService(db, newFakeLocker(), &fakePublisher{})
	order, _ := svc.CreateOrder(context.Background(), 1, 1, 2)

	pub := &fakePublisher{}
	h := NewCompensationHandler(db, newFakeLocker(), newFakeIdem(), pub, newTestMetrics(), testLockOpts, time.Hour, testLog)

	_, err := h.HandleStockRestore(context.Background(), domain.StockRestoreCommand{OrderID: order.ID, ProductID: 2, Quantity: 2})
	if !errors.Is(err, domain.ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
	if len(pub.parked) != 0 {
		t.Error("unknown product must not be retried")
	}
	if stored, _ := db.order(order.ID); stored.Status != domain.OrderStatusCreated {
		t.Errorf("rolled back restore must leave order CREATED, got %s", stored.Status)
	}
}

// Order creation, a forced worker failure and the restore command together
// leave the product where it started.
func TestSaga_ForcedFailureCompensates(t *testing.T) {
	db := newFakeDB()
	db.addProduct(1, "10", 10)
	locker := newFakeLocker()
	pub := &fakePublisher{}
	idem := newFakeIdem()

	svc := newTestOrderService(db, locker, pub)
	opts := testConsumerOpts
	opts.ForcePermanentFailure = true
	consumer, _ := newTestConsumer(idem, &countingProcessor{}, pub, opts)
	comp := NewCompensationHandler(db, locker, idem, pub, newTestMetrics(), testLockOpts, time.Hour, testLog)

	order, err := svc.CreateOrder(context.Background(), 1, 1, 4)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if got := db.stock(1); got != 6 {
		t.Fatalf("expected stock 6 after order, got %d", got)
	}

	out, err := consumer.HandleOrderCreated(context.Background(), pub.created[0], 0)
	if err != nil || out != OutcomeCompensated {
		t.Fatalf("consumer: got %s, %v", out, err)
	}
	if _, err := comp.HandleStockRestore(context.Background(), pub.restores[0]); err != nil {
		t.Fatalf("restore: %v", err)
	}

	stored, _ := db.order(order.ID)
	if stored.Status != domain.OrderStatusCanceled {
		t.Errorf("expected CANCELED, got %s", stored.Status)
	}
	if got := db.stock(1); got != 10 {
		t.Errorf("expected stock back to 10, got %d", got)
	}
}
