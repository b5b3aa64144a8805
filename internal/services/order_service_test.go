package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	domain "github.com/shopforge/api/internal/domain"
)

type stubValidator struct {
	err error
}

func (s *stubValidator) Validate(context.Context, CreateOrderCommand) error { return s.err }

type stubNumberGen struct {
	number string
	err    error
}

func (s *stubNumberGen) Generate(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.number == "" {
		return "ORD-00000001-TEST", nil
	}
	return s.number, nil
}

type orderServiceFixture struct {
	svc       OrderService
	store     *memoryProductStore
	orders    *stubOrderRepo
	history   *stubHistoryRepo
	carts     *stubCartRepo
	publisher *stubPublisher
	uow       *countingUnitOfWork

	inserted       []domain.Order
	updated        []domain.Order
	historyEntries []domain.OrderStatusHistory
	cartsCleared   []string
}

func newOrderServiceFixture(t *testing.T, products ...domain.Product) *orderServiceFixture {
	t.Helper()

	f := &orderServiceFixture{
		store:     newMemoryProductStore(products...),
		publisher: &stubPublisher{},
		uow:       &countingUnitOfWork{},
	}
	f.orders = &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			f.inserted = append(f.inserted, order)
			return nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			f.updated = append(f.updated, order)
			return nil
		},
	}
	f.history = &stubHistoryRepo{
		appendFn: func(_ context.Context, entry domain.OrderStatusHistory) error {
			f.historyEntries = append(f.historyEntries, entry)
			return nil
		},
	}
	f.carts = &stubCartRepo{
		clearFn: func(_ context.Context, userID string) error {
			f.cartsCleared = append(f.cartsCleared, userID)
			return nil
		},
	}

	inventory, err := NewInventoryService(InventoryServiceDeps{Products: f.store})
	if err != nil {
		t.Fatalf("NewInventoryService returned error: %v", err)
	}
	pricing, err := NewPricingCalculator(PricingCalculatorDeps{Products: f.store})
	if err != nil {
		t.Fatalf("NewPricingCalculator returned error: %v", err)
	}

	ids := 0
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:     f.orders,
		History:    f.history,
		Carts:      f.carts,
		UnitOfWork: f.uow,
		Validator:  &stubValidator{},
		Pricing:    pricing,
		Inventory:  inventory,
		Numbers:    &stubNumberGen{},
		Events:     f.publisher,
		Clock:      fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		IDGenerator: func() string {
			ids++
			return fmt.Sprintf("%06d", ids)
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	f.svc = svc
	return f
}

// withExistingOrder rewires the fixture's find hook to serve one order.
func (f *orderServiceFixture) withExistingOrder(order domain.Order) {
	f.orders.findFn = func(_ context.Context, orderID string) (domain.Order, error) {
		if orderID == order.ID {
			return order, nil
		}
		return domain.Order{}, notFoundErr("order " + orderID + " not found")
	}
}

func TestCreateOrderHappyPath(t *testing.T) {
	f := newOrderServiceFixture(t, activeProduct("prod-1", "Widget", "25.00", 10))

	order, err := f.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:            "user-1",
		ShippingAddressID: "addr-1",
		ShippingMethod:    domain.ShippingStandard,
		Items:             []CreateOrderItem{{ProductID: "prod-1", Quantity: 2}},
		ActorID:           "user-1",
	})
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	if order.Status != domain.OrderStatusPending {
		t.Errorf("status = %s, want pending", order.Status)
	}
	if order.OrderNumber != "ORD-00000001-TEST" {
		t.Errorf("order number = %s", order.OrderNumber)
	}
	assertMoney(t, "subtotal", order.Totals.Subtotal, "50.00")
	assertMoney(t, "tax", order.Totals.Tax, "4.25")
	assertMoney(t, "shipping", order.Totals.Shipping, "9.99")
	assertMoney(t, "total", order.Totals.Total, "64.24")

	if len(order.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(order.Items))
	}
	item := order.Items[0]
	if item.ProductName != "Widget" {
		t.Errorf("frozen product name = %q, want Widget", item.ProductName)
	}
	assertMoney(t, "unit price", item.UnitPrice, "25.00")
	assertMoney(t, "line total", item.TotalPrice, "50.00")

	if got := f.store.stock("prod-1"); got != 8 {
		t.Errorf("stock = %d, want 8", got)
	}
	if len(f.inserted) != 1 {
		t.Fatalf("inserted orders = %d, want 1", len(f.inserted))
	}
	if f.uow.calls != 1 {
		t.Errorf("transactions = %d, want 1", f.uow.calls)
	}
	if len(f.cartsCleared) != 1 || f.cartsCleared[0] != "user-1" {
		t.Errorf("carts cleared = %v, want [user-1]", f.cartsCleared)
	}

	if len(f.historyEntries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(f.historyEntries))
	}
	entry := f.historyEntries[0]
	if entry.PreviousStatus != nil {
		t.Errorf("creation entry previous status = %v, want nil", *entry.PreviousStatus)
	}
	if entry.NewStatus != domain.OrderStatusPending {
		t.Errorf("creation entry new status = %s, want pending", entry.NewStatus)
	}
	if !entry.CustomerVisible {
		t.Error("creation entry should be customer visible")
	}

	events := f.publisher.published()
	if len(events) != 1 || events[0].Type != orderEventCreated {
		t.Fatalf("events = %+v, want one order.created", events)
	}
	if events[0].OrderID != order.ID || events[0].NewStatus != string(domain.OrderStatusPending) {
		t.Errorf("event payload = %+v", events[0])
	}
}

func TestCreateOrderWithPaymentConfirmed(t *testing.T) {
	f := newOrderServiceFixture(t, activeProduct("prod-1", "Widget", "25.00", 10))

	order, err := f.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:            "user-1",
		ShippingAddressID: "addr-1",
		Items:             []CreateOrderItem{{ProductID: "prod-1", Quantity: 1}},
		PaymentConfirmed:  true,
	})
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Errorf("status = %s, want confirmed", order.Status)
	}
	if !order.PaymentConfirmed {
		t.Error("payment confirmed flag should be set")
	}
	if order.ConfirmedAt == nil {
		t.Error("confirmedAt should be set")
	}
}

func TestCreateOrderShortfallLeavesNothingBehind(t *testing.T) {
	f := newOrderServiceFixture(t, activeProduct("prod-1", "Widget", "25.00", 3))

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:            "user-1",
		ShippingAddressID: "addr-1",
		Items:             []CreateOrderItem{{ProductID: "prod-1", Quantity: 5}},
	})
	ve, ok := AsValidationError(err)
	if !ok {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if len(ve.Errors) != 1 || ve.Errors[0].Requested != 5 || ve.Errors[0].Available != 3 {
		t.Errorf("field errors = %+v, want one shortfall with 5/3", ve.Errors)
	}

	if got := f.store.stock("prod-1"); got != 3 {
		t.Errorf("stock = %d, want untouched 3", got)
	}
	if len(f.inserted) != 0 {
		t.Errorf("inserted orders = %d, want 0", len(f.inserted))
	}
	if len(f.historyEntries) != 0 {
		t.Errorf("history entries = %d, want 0", len(f.historyEntries))
	}
	if len(f.cartsCleared) != 0 {
		t.Errorf("carts cleared = %v, want none", f.cartsCleared)
	}
	if events := f.publisher.published(); len(events) != 0 {
		t.Errorf("events = %+v, want none", events)
	}
}

func TestCreateOrderValidationFailureSkipsEverything(t *testing.T) {
	f := newOrderServiceFixture(t, activeProduct("prod-1", "Widget", "25.00", 10))
	failing := &stubValidator{err: NewValidationError([]FieldError{{Field: "userId", Code: "required"}})}

	inventory, _ := NewInventoryService(InventoryServiceDeps{Products: f.store})
	pricing, _ := NewPricingCalculator(PricingCalculatorDeps{Products: f.store})
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:    f.orders,
		History:   f.history,
		Carts:     f.carts,
		Validator: failing,
		Pricing:   pricing,
		Inventory: inventory,
		Numbers:   &stubNumberGen{},
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	if _, err := svc.CreateOrder(context.Background(), CreateOrderCommand{}); err == nil {
		t.Fatal("expected validation error")
	}
	if len(f.inserted) != 0 {
		t.Errorf("inserted orders = %d, want 0", len(f.inserted))
	}
}

func TestTransitionStatusHappyPath(t *testing.T) {
	f := newOrderServiceFixture(t)
	f.withExistingOrder(domain.Order{
		ID:          "ord_1",
		OrderNumber: "ORD-00000001-AAAA",
		UserID:      "user-1",
		Status:      domain.OrderStatusPending,
	})

	order, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:         "ord_1",
		NewStatus:       domain.OrderStatusConfirmed,
		Comment:         "payment cleared",
		ActorID:         "admin-1",
		CustomerVisible: true,
	})
	if err != nil {
		t.Fatalf("TransitionStatus returned error: %v", err)
	}

	if order.Status != domain.OrderStatusConfirmed {
		t.Errorf("status = %s, want confirmed", order.Status)
	}
	if order.ConfirmedAt == nil {
		t.Error("confirmedAt should be set")
	}
	if len(f.updated) != 1 {
		t.Fatalf("updates = %d, want 1", len(f.updated))
	}
	if len(f.historyEntries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(f.historyEntries))
	}
	entry := f.historyEntries[0]
	if entry.PreviousStatus == nil || *entry.PreviousStatus != domain.OrderStatusPending {
		t.Errorf("previous status = %v, want pending", entry.PreviousStatus)
	}
	if entry.NewStatus != domain.OrderStatusConfirmed || entry.ChangedBy != "admin-1" {
		t.Errorf("entry = %+v", entry)
	}

	events := f.publisher.published()
	if len(events) != 1 || events[0].Type != orderEventStatusChanged {
		t.Fatalf("events = %+v, want one order.status.changed", events)
	}
	if events[0].PreviousStatus != "pending" || events[0].NewStatus != "confirmed" {
		t.Errorf("event payload = %+v", events[0])
	}
}

func TestTransitionStatusRejectsNonWhitelisted(t *testing.T) {
	cases := []struct {
		from domain.OrderStatus
		to   domain.OrderStatus
	}{
		{domain.OrderStatusPending, domain.OrderStatusShipped},
		{domain.OrderStatusPending, domain.OrderStatusDelivered},
		{domain.OrderStatusDelivered, domain.OrderStatusPending},
		{domain.OrderStatusRefunded, domain.OrderStatusCancelled},
		{domain.OrderStatusShipped, domain.OrderStatusCancelled},
	}
	for _, tc := range cases {
		f := newOrderServiceFixture(t)
		f.withExistingOrder(domain.Order{ID: "ord_1", Status: tc.from})

		_, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
			OrderID:   "ord_1",
			NewStatus: tc.to,
		})
		if !errors.Is(err, ErrInvalidStatusTransition) {
			t.Errorf("%s -> %s: error = %v, want ErrInvalidStatusTransition", tc.from, tc.to, err)
		}
		if len(f.updated) != 0 || len(f.historyEntries) != 0 {
			t.Errorf("%s -> %s: order mutated on rejected transition", tc.from, tc.to)
		}
	}
}

func TestTransitionStatusRejectsSelfTransition(t *testing.T) {
	f := newOrderServiceFixture(t)
	f.withExistingOrder(domain.Order{ID: "ord_1", Status: domain.OrderStatusPending})

	_, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:   "ord_1",
		NewStatus: domain.OrderStatusPending,
	})
	if !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("error = %v, want ErrInvalidStatusTransition", err)
	}
}

func TestTransitionStatusUnknownOrder(t *testing.T) {
	f := newOrderServiceFixture(t)

	_, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:   "ord_missing",
		NewStatus: domain.OrderStatusConfirmed,
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("error = %v, want ErrOrderNotFound", err)
	}
}

func TestCancellationReleasesInventoryExactlyOnce(t *testing.T) {
	f := newOrderServiceFixture(t, activeProduct("prod-1", "Widget", "25.00", 5))
	order := domain.Order{
		ID:     "ord_1",
		UserID: "user-1",
		Status: domain.OrderStatusProcessing,
		Items:  []domain.OrderItem{{ProductID: "prod-1", Quantity: 2}},
	}
	f.withExistingOrder(order)

	cancelled, err := f.svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_1",
		Reason:  "customer changed their mind",
	})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if cancelled.CancelReason == nil || *cancelled.CancelReason != "customer changed their mind" {
		t.Errorf("cancel reason = %v", cancelled.CancelReason)
	}
	if cancelled.CancelledAt == nil {
		t.Error("cancelledAt should be set")
	}
	if got := f.store.stock("prod-1"); got != 7 {
		t.Errorf("stock after cancellation = %d, want 7", got)
	}

	// cancelled -> refunded stays inside the restoring set: no second release.
	f.withExistingOrder(cancelled)
	refunded, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:   "ord_1",
		NewStatus: domain.OrderStatusRefunded,
	})
	if err != nil {
		t.Fatalf("refund transition returned error: %v", err)
	}
	if refunded.Status != domain.OrderStatusRefunded {
		t.Errorf("status = %s, want refunded", refunded.Status)
	}
	if got := f.store.stock("prod-1"); got != 7 {
		t.Errorf("stock after refund = %d, want still 7", got)
	}
}

func TestCompetingRestoringTransitionReleasesOnce(t *testing.T) {
	f := newOrderServiceFixture(t, activeProduct("prod-1", "Widget", "25.00", 5))
	current := domain.Order{
		ID:     "ord_1",
		UserID: "user-1",
		Status: domain.OrderStatusShipped,
		Items:  []domain.OrderItem{{ProductID: "prod-1", Quantity: 2}},
	}
	f.orders.findFn = func(_ context.Context, orderID string) (domain.Order, error) {
		if orderID == current.ID {
			return current, nil
		}
		return domain.Order{}, notFoundErr("order " + orderID + " not found")
	}

	// Another request returns the order between this call and its
	// transaction; the in-transaction re-read must see the new status
	// and refuse a second release.
	f.uow.before = func() {
		other := current
		other.Status = domain.OrderStatusReturned
		current = other
	}

	_, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:   "ord_1",
		NewStatus: domain.OrderStatusReturned,
		ActorID:   "admin-1",
	})
	if !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("err = %v, want ErrInvalidStatusTransition", err)
	}
	if got := f.store.stock("prod-1"); got != 5 {
		t.Errorf("stock = %d, want untouched 5", got)
	}
	if len(f.updated) != 0 || len(f.historyEntries) != 0 {
		t.Errorf("updates = %d, history = %d, want none", len(f.updated), len(f.historyEntries))
	}
}

func TestReturnAfterDeliveryReleasesInventory(t *testing.T) {
	f := newOrderServiceFixture(t, activeProduct("prod-1", "Widget", "25.00", 0))
	f.withExistingOrder(domain.Order{
		ID:     "ord_1",
		Status: domain.OrderStatusDelivered,
		Items:  []domain.OrderItem{{ProductID: "prod-1", Quantity: 3}},
	})

	if _, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:   "ord_1",
		NewStatus: domain.OrderStatusReturned,
	}); err != nil {
		t.Fatalf("TransitionStatus returned error: %v", err)
	}
	if got := f.store.stock("prod-1"); got != 3 {
		t.Errorf("stock = %d, want 3", got)
	}
}

func TestCancelRequiresReason(t *testing.T) {
	f := newOrderServiceFixture(t)

	for _, reason := range []string{"", "   "} {
		if _, err := f.svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1", Reason: reason}); !errors.Is(err, ErrOrderInvalidInput) {
			t.Errorf("reason %q: error = %v, want ErrOrderInvalidInput", reason, err)
		}
	}
}

func TestCancelRejectsOverlongReason(t *testing.T) {
	f := newOrderServiceFixture(t)

	long := make([]byte, 501)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := f.svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1", Reason: string(long)}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("error = %v, want ErrOrderInvalidInput", err)
	}
}

func TestConfirmPaymentAdvancesPendingOrder(t *testing.T) {
	f := newOrderServiceFixture(t)
	f.withExistingOrder(domain.Order{
		ID:     "ord_1",
		Status: domain.OrderStatusPending,
	})

	order, err := f.svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: "ord_1", ActorID: "system"})
	if err != nil {
		t.Fatalf("ConfirmPayment returned error: %v", err)
	}
	if !order.PaymentConfirmed {
		t.Error("payment confirmed flag should be set")
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Errorf("status = %s, want confirmed", order.Status)
	}
	if len(f.historyEntries) != 1 {
		t.Fatalf("history entries = %d, want exactly 1", len(f.historyEntries))
	}
	if f.historyEntries[0].Comment != "Payment confirmed" {
		t.Errorf("comment = %q", f.historyEntries[0].Comment)
	}
}

func TestConfirmPaymentOnNonPendingOrderOnlySetsFlag(t *testing.T) {
	f := newOrderServiceFixture(t)
	f.withExistingOrder(domain.Order{
		ID:     "ord_1",
		Status: domain.OrderStatusProcessing,
	})

	order, err := f.svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("ConfirmPayment returned error: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Errorf("status = %s, want unchanged processing", order.Status)
	}
	if !order.PaymentConfirmed {
		t.Error("payment confirmed flag should be set")
	}
	if len(f.historyEntries) != 0 {
		t.Errorf("history entries = %d, want 0", len(f.historyEntries))
	}
}

func TestConfirmPaymentTwiceFails(t *testing.T) {
	f := newOrderServiceFixture(t)
	f.withExistingOrder(domain.Order{
		ID:               "ord_1",
		Status:           domain.OrderStatusConfirmed,
		PaymentConfirmed: true,
	})

	_, err := f.svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrAlreadyConfirmed) {
		t.Fatalf("error = %v, want ErrAlreadyConfirmed", err)
	}
	if len(f.updated) != 0 {
		t.Errorf("updates = %d, want 0", len(f.updated))
	}
}

func TestOrderMutationsEmitTracerSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	f := newOrderServiceFixture(t, activeProduct("prod-1", "Widget", "25.00", 10))
	created, err := f.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:            "user-1",
		ShippingAddressID: "addr-1",
		ShippingMethod:    domain.ShippingStandard,
		Items:             []CreateOrderItem{{ProductID: "prod-1", Quantity: 2}},
		ActorID:           "user-1",
	})
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	f.withExistingOrder(created)
	if _, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:   created.ID,
		NewStatus: domain.OrderStatusConfirmed,
		ActorID:   "admin-1",
	}); err != nil {
		t.Fatalf("TransitionStatus returned error: %v", err)
	}

	names := make(map[string]bool)
	for _, span := range exporter.GetSpans() {
		names[span.Name] = true
	}
	if !names["OrderService.CreateOrder"] {
		t.Error("missing span for order creation")
	}
	if !names["OrderService.TransitionStatus"] {
		t.Error("missing span for status transition")
	}
}

func TestCreateOrderSurvivesPublishFailure(t *testing.T) {
	f := newOrderServiceFixture(t, activeProduct("prod-1", "Widget", "25.00", 10))
	f.publisher.err = errStubFailure

	if _, err := f.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:            "user-1",
		ShippingAddressID: "addr-1",
		Items:             []CreateOrderItem{{ProductID: "prod-1", Quantity: 1}},
	}); err != nil {
		t.Fatalf("CreateOrder returned error despite committed transaction: %v", err)
	}
	if len(f.inserted) != 1 {
		t.Errorf("inserted orders = %d, want 1", len(f.inserted))
	}
}
