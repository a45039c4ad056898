package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	bookingserrors "classbook/internal/bookings/errors"
	"classbook/internal/bookings/events"
	"classbook/internal/bookings/repository"
	packageserrors "classbook/internal/packages/errors"
	scheduleserrors "classbook/internal/schedules/errors"
	"classbook/internal/slots"
	"classbook/internal/slots/counter"
	"classbook/pkg/config"
	mongotx "classbook/pkg/db/mongo"
	apperrors "classbook/pkg/errors"
	"classbook/pkg/logger"
	"classbook/pkg/model"

	"go.mongodb.org/mongo-driver/mongo"
)

type mockBookingRepo struct {
	mu       sync.Mutex
	inserted []*model.Booking

	createFunc          func(ctx context.Context, booking *model.Booking) error
	findByIDFunc        func(ctx context.Context, id string) (*model.Booking, error)
	findActiveFunc      func(ctx context.Context, userID string, classID string) (*model.Booking, error)
	findOverlappingFunc func(ctx context.Context, userID string, start time.Time, end time.Time) (*repository.BookingWithClass, error)
	listByUserFunc      func(ctx context.Context, userID string, status string, limit int, offset int64) ([]*repository.BookingWithClass, error)
	countByUserFunc     func(ctx context.Context, userID string, status string) (int64, error)
	markCancelledFunc   func(ctx context.Context, id string, at time.Time, refunded bool) error
	markCheckedInFunc   func(ctx context.Context, id string, at time.Time) error
}

func (m *mockBookingRepo) Create(ctx context.Context, booking *model.Booking) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, booking)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	booking.ID = fmt.Sprintf("booking-%d", len(m.inserted)+1)
	m.inserted = append(m.inserted, booking)
	return nil
}

func (m *mockBookingRepo) FindByID(ctx context.Context, id string) (*model.Booking, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, bookingserrors.ErrNotFound
}

func (m *mockBookingRepo) FindActiveByUserAndClass(ctx context.Context, userID string, classID string) (*model.Booking, error) {
	if m.findActiveFunc != nil {
		return m.findActiveFunc(ctx, userID, classID)
	}
	return nil, bookingserrors.ErrNotFound
}

func (m *mockBookingRepo) FindOverlapping(ctx context.Context, userID string, start time.Time, end time.Time) (*repository.BookingWithClass, error) {
	if m.findOverlappingFunc != nil {
		return m.findOverlappingFunc(ctx, userID, start, end)
	}
	return nil, bookingserrors.ErrNotFound
}

func (m *mockBookingRepo) ListByUser(ctx context.Context, userID string, status string, limit int, offset int64) ([]*repository.BookingWithClass, error) {
	if m.listByUserFunc != nil {
		return m.listByUserFunc(ctx, userID, status, limit, offset)
	}
	return []*repository.BookingWithClass{}, nil
}

func (m *mockBookingRepo) CountByUser(ctx context.Context, userID string, status string) (int64, error) {
	if m.countByUserFunc != nil {
		return m.countByUserFunc(ctx, userID, status)
	}
	return 0, nil
}

func (m *mockBookingRepo) MarkCancelled(ctx context.Context, id string, at time.Time, refunded bool) error {
	if m.markCancelledFunc != nil {
		return m.markCancelledFunc(ctx, id, at, refunded)
	}
	return nil
}

func (m *mockBookingRepo) MarkCheckedIn(ctx context.Context, id string, at time.Time) error {
	if m.markCheckedInFunc != nil {
		return m.markCheckedInFunc(ctx, id, at)
	}
	return nil
}

func (m *mockBookingRepo) EnsureIndexes(context.Context) error {
	return nil
}

func (m *mockBookingRepo) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return fn(mongo.NewSessionContext(ctx, nil))
}

type mockClassRepo struct {
	findByIDFunc       func(ctx context.Context, id string) (*model.ClassSchedule, error)
	decrementSlotsFunc func(ctx context.Context, id string) error
	incrementSlotsFunc func(ctx context.Context, id string) error
	syncSlotsFunc      func(ctx context.Context, id string, available int) error
}

func (m *mockClassRepo) Create(context.Context, *model.ClassSchedule) error { return nil }

func (m *mockClassRepo) FindByID(ctx context.Context, id string) (*model.ClassSchedule, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, scheduleserrors.ErrNotFound
}

func (m *mockClassRepo) FindAll(context.Context, int, int64, bool) ([]*model.ClassSchedule, error) {
	return nil, nil
}

func (m *mockClassRepo) Count(context.Context, bool) (int64, error) { return 0, nil }

func (m *mockClassRepo) Update(context.Context, string, *model.ClassSchedule) error { return nil }

func (m *mockClassRepo) Delete(context.Context, string) error { return nil }

func (m *mockClassRepo) DecrementSlots(ctx context.Context, id string) error {
	if m.decrementSlotsFunc != nil {
		return m.decrementSlotsFunc(ctx, id)
	}
	return nil
}

func (m *mockClassRepo) IncrementSlots(ctx context.Context, id string) error {
	if m.incrementSlotsFunc != nil {
		return m.incrementSlotsFunc(ctx, id)
	}
	return nil
}

func (m *mockClassRepo) SyncSlots(ctx context.Context, id string, available int) error {
	if m.syncSlotsFunc != nil {
		return m.syncSlotsFunc(ctx, id, available)
	}
	return nil
}

func (m *mockClassRepo) SetCapacity(context.Context, string, int, int) error { return nil }

func (m *mockClassRepo) CountConfirmedBookings(context.Context, string) (int64, error) {
	return 0, nil
}

func (m *mockClassRepo) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return fn(mongo.NewSessionContext(ctx, nil))
}

type mockGrantRepo struct {
	findEligibleFunc func(ctx context.Context, userID string, cost int, now time.Time) (*model.CreditGrant, error)
	deductFunc       func(ctx context.Context, grantID string, cost int, now time.Time) error
	refundFunc       func(ctx context.Context, grantID string, amount int) error
}

func (m *mockGrantRepo) CreatePackage(context.Context, *model.Package) error { return nil }

func (m *mockGrantRepo) FindPackageByID(context.Context, string) (*model.Package, error) {
	return nil, packageserrors.ErrPackageNotFound
}

func (m *mockGrantRepo) ListPackages(context.Context, bool) ([]*model.Package, error) {
	return nil, nil
}

func (m *mockGrantRepo) CreateGrant(context.Context, *model.CreditGrant) error { return nil }

func (m *mockGrantRepo) FindGrantByID(context.Context, string) (*model.CreditGrant, error) {
	return nil, packageserrors.ErrGrantNotFound
}

func (m *mockGrantRepo) ListGrantsByUser(context.Context, string) ([]*model.CreditGrant, error) {
	return nil, nil
}

func (m *mockGrantRepo) FindEligibleGrant(ctx context.Context, userID string, cost int, now time.Time) (*model.CreditGrant, error) {
	if m.findEligibleFunc != nil {
		return m.findEligibleFunc(ctx, userID, cost, now)
	}
	return &model.CreditGrant{
		ID:               "grant-1",
		UserID:           userID,
		RemainingCredits: 10,
		ExpiresAt:        now.Add(30 * 24 * time.Hour),
	}, nil
}

func (m *mockGrantRepo) DeductCredits(ctx context.Context, grantID string, cost int, now time.Time) error {
	if m.deductFunc != nil {
		return m.deductFunc(ctx, grantID, cost, now)
	}
	return nil
}

func (m *mockGrantRepo) RefundCredits(ctx context.Context, grantID string, amount int) error {
	if m.refundFunc != nil {
		return m.refundFunc(ctx, grantID, amount)
	}
	return nil
}

func (m *mockGrantRepo) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return fn(mongo.NewSessionContext(ctx, nil))
}

type recordedEvent struct {
	Type  string
	Event events.BookingEvent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, event events.BookingEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Type: eventType, Event: event})
}

func (p *recordingPublisher) byType(eventType string) []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []recordedEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Log: logger.New(logger.Config{
			Level:   logger.ERROR,
			Format:  logger.TEXT,
			Service: "test",
		}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

type fixture struct {
	bookings  *mockBookingRepo
	classes   *mockClassRepo
	grants    *mockGrantRepo
	mem       *counter.MemoryCounter
	publisher *recordingPublisher
	svc       BookingService
}

func newFixture(mem counter.Counter) *fixture {
	cfg := testConfig()
	f := &fixture{
		bookings:  &mockBookingRepo{},
		classes:   &mockClassRepo{},
		grants:    &mockGrantRepo{},
		publisher: &recordingPublisher{},
	}
	if m, ok := mem.(*counter.MemoryCounter); ok {
		f.mem = m
	}
	coordinator := slots.NewCoordinator(mem, 200*time.Millisecond, cfg.Log)
	f.svc = NewBookingService(f.bookings, f.classes, f.grants, coordinator, f.publisher, cfg)
	return f
}

func upcomingClass(id string, available int) *model.ClassSchedule {
	start := time.Now().UTC().Add(24 * time.Hour)
	return &model.ClassSchedule{
		ID:              id,
		Title:           "Morning Yoga",
		StartTime:       start,
		EndTime:         start.Add(time.Hour),
		Capacity:        10,
		AvailableSlots:  available,
		RequiredCredits: 2,
		IsActive:        true,
	}
}

func TestBook_FastPathSuccess(t *testing.T) {
	f := newFixture(counter.NewMemoryCounter())
	class := upcomingClass("class-1", 5)
	f.classes.findByIDFunc = func(_ context.Context, _ string) (*model.ClassSchedule, error) {
		return class, nil
	}

	var synced []int
	f.classes.syncSlotsFunc = func(_ context.Context, _ string, available int) error {
		synced = append(synced, available)
		return nil
	}

	receipt, err := f.svc.Book(context.Background(), "user-1", "class-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receipt.CreditsUsed != class.RequiredCredits {
		t.Errorf("expected %d credits used, got %d", class.RequiredCredits, receipt.CreditsUsed)
	}
	if receipt.RemainingCredits != 10-class.RequiredCredits {
		t.Errorf("expected %d remaining credits, got %d", 10-class.RequiredCredits, receipt.RemainingCredits)
	}
	if receipt.Status != model.BookingConfirmed {
		t.Errorf("expected status %s, got %s", model.BookingConfirmed, receipt.Status)
	}

	// Mirror was seeded at 5 and decremented once; the ledger is synced to it.
	if len(synced) != 1 || synced[0] != 4 {
		t.Errorf("expected one ledger sync to 4, got %v", synced)
	}
	value, _, _ := f.mem.Get(context.Background(), "class-1")
	if value != 4 {
		t.Errorf("expected mirror at 4, got %d", value)
	}

	confirmed := f.publisher.byType(events.EventBookingConfirmed)
	if len(confirmed) != 1 {
		t.Fatalf("expected one confirmed event, got %d", len(confirmed))
	}
	if confirmed[0].Event.ClassID != "class-1" || confirmed[0].Event.UserID != "user-1" {
		t.Errorf("unexpected event payload: %+v", confirmed[0].Event)
	}
}

func TestBook_ClassFullViaFastPath(t *testing.T) {
	f := newFixture(counter.NewMemoryCounter())
	class := upcomingClass("class-1", 0)
	f.classes.findByIDFunc = func(_ context.Context, _ string) (*model.ClassSchedule, error) {
		return class, nil
	}
	txRan := false
	f.bookings.createFunc = func(_ context.Context, _ *model.Booking) error {
		txRan = true
		return nil
	}

	_, err := f.svc.Book(context.Background(), "user-1", "class-1")
	if !apperrors.HasReason(err, apperrors.ReasonClassFull) {
		t.Fatalf("expected %s conflict, got %v", apperrors.ReasonClassFull, err)
	}
	if txRan {
		t.Error("no booking must be written when the class is full")
	}
}

func TestBook_ClassFullViaLedgerFallback(t *testing.T) {
	// No counter configured: the guarded ledger decrement arbitrates.
	f := newFixture(nil)
	class := upcomingClass("class-1", 1)
	f.classes.findByIDFunc = func(_ context.Context, _ string) (*model.ClassSchedule, error) {
		return class, nil
	}
	f.classes.decrementSlotsFunc = func(_ context.Context, id string) error {
		return fmt.Errorf("%w: %s", scheduleserrors.ErrNoSlots, id)
	}

	_, err := f.svc.Book(context.Background(), "user-1", "class-1")
	if !apperrors.HasReason(err, apperrors.ReasonClassFull) {
		t.Fatalf("expected %s conflict, got %v", apperrors.ReasonClassFull, err)
	}
}

func TestBook_DuplicateRejectedBeforeReserving(t *testing.T) {
	f := newFixture(counter.NewMemoryCounter())
	class := upcomingClass("class-1", 5)
	f.classes.findByIDFunc = func(_ context.Context, _ string) (*model.ClassSchedule, error) {
		return class, nil
	}
	f.bookings.findActiveFunc = func(_ context.Context, _ string, _ string) (*model.Booking, error) {
		return &model.Booking{ID: "existing"}, nil
	}

	_, err := f.svc.Book(context.Background(), "user-1", "class-1")
	if !apperrors.HasReason(err, apperrors.ReasonAlreadyBooked) {
		t.Fatalf("expected %s conflict, got %v", apperrors.ReasonAlreadyBooked, err)
	}

	// Rejected before any reservation: the mirror must stay untouched.
	if _, ok, _ := f.mem.Get(context.Background(), "class-1"); ok {
		t.Error("mirror must not be initialized for a rejected duplicate")
	}
}

func TestBook_OverlapRejected(t *testing.T) {
	f := newFixture(counter.NewMemoryCounter())
	class := upcomingClass("class-1", 5)
	f.classes.findByIDFunc = func(_ context.Context, _ string) (*model.ClassSchedule, error) {
		return class, nil
	}
	f.bookings.findOverlappingFunc = func(_ context.Context, _ string, _ time.Time, _ time.Time) (*repository.BookingWithClass, error) {
		other := upcomingClass("class-2", 3)
		other.Title = "Pilates"
		return &repository.BookingWithClass{
			Booking: model.Booking{ID: "other-booking", ClassID: "class-2"},
			Class:   *other,
		}, nil
	}

	_, err := f.svc.Book(context.Background(), "user-1", "class-1")
	if !apperrors.HasReason(err, apperrors.ReasonOverlap) {
		t.Fatalf("expected %s conflict, got %v", apperrors.ReasonOverlap, err)
	}
}

func TestBook_InsufficientCreditsBeforeReserving(t *testing.T) {
	f := newFixture(counter.NewMemoryCounter())
	class := upcomingClass("class-1", 5)
	f.classes.findByIDFunc = func(_ context.Context, _ string) (*model.ClassSchedule, error) {
		return class, nil
	}
	f.grants.findEligibleFunc = func(_ context.Context, userID string, _ int, _ time.Time) (*model.CreditGrant, error) {
		return nil, fmt.Errorf("%w: user %s", packageserrors.ErrNoEligibleGrant, userID)
	}

	_, err := f.svc.Book(context.Background(), "user-1", "class-1")
	appErr := apperrors.AsAppError(err)
	if appErr.Code != apperrors.CodeInsufficientCredits {
		t.Fatalf("expected %s, got %v", apperrors.CodeInsufficientCredits, err)
	}
	if _, ok, _ := f.mem.Get(context.Background(), "class-1"); ok {
		t.Error("mirror must not be initialized when credits are insufficient")
	}
}

func TestBook_InactiveAndStartedClasses(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.ClassSchedule)
		reason string
	}{
		{
			"inactive class",
			func(c *model.ClassSchedule) { c.IsActive = false },
			apperrors.ReasonClassInactive,
		},
		{
			"started class",
			func(c *model.ClassSchedule) {
				c.StartTime = time.Now().UTC().Add(-time.Hour)
				c.EndTime = c.StartTime.Add(2 * time.Hour)
			},
			apperrors.ReasonClassStarted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(counter.NewMemoryCounter())
			class := upcomingClass("class-1", 5)
			tt.mutate(class)
			f.classes.findByIDFunc = func(_ context.Context, _ string) (*model.ClassSchedule, error) {
				return class, nil
			}

			_, err := f.svc.Book(context.Background(), "user-1", "class-1")
			if !apperrors.HasReason(err, tt.reason) {
				t.Errorf("expected %s conflict, got %v", tt.reason, err)
			}
		})
	}
}

func TestBook_EarliestExpiringGrantIsCharged(t *testing.T) {
	f := newFixture(counter.NewMemoryCounter())
	class := upcomingClass("class-1", 5)
	f.classes.findByIDFunc = func(_ context.Context, _ string) (*model.ClassSchedule, error) {
		return class, nil
	}

	// The repository returns grants ordered by expiry; the service must
	// charge exactly the grant it was given.
	soonest := &model.CreditGrant{
		ID:               "grant-expiring-soon",
		RemainingCredits: 4,
		ExpiresAt:        time.Now().UTC().Add(48 * time.Hour),
	}
	f.grants.findEligibleFunc = func(_ context.Context, _ string, _ int, _ time.Time) (*model.CreditGrant, error) {
		return soonest, nil
	}

	var chargedGrant string
	var chargedCost int
	f.grants.deductFunc = func(_ context.Context, grantID string, cost int, _ time.Time) error {
		chargedGrant = grantID
		chargedCost = cost
		return nil
	}

	receipt, err := f.svc.Book(context.Background(), "user-1", "class-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chargedGrant != soonest.ID {
		t.Errorf("expected grant %s charged, got %s", soonest.ID, chargedGrant)
	}
	if chargedCost != class.RequiredCredits {
		t.Errorf("expected cost %d, got %d", class.RequiredCredits, chargedCost)
	}
	if receipt.RemainingCredits != soonest.RemainingCredits-class.RequiredCredits {
		t.Errorf("expected remaining %d, got %d", soonest.RemainingCredits-class.RequiredCredits, receipt.RemainingCredits)
	}
}

func TestBook_FastPathCompensatedWhenTransactionFails(t *testing.T) {
	f := newFixture(counter.NewMemoryCounter())
	class := upcomingClass("class-1", 3)
	f.classes.findByIDFunc = func(_ context.Context, _ string) (*model.ClassSchedule, error) {
		return class, nil
	}
	f.bookings.createFunc = func(_ context.Context, _ *model.Booking) error {
		return errors.New("write conflict")
	}

	_, err := f.svc.Book(context.Background(), "user-1", "class-1")
	if err == nil {
		t.Fatal("expected error from failed transaction")
	}

	// Reserve decremented 3 to 2; the failed transaction must hand the slot
	// back.
	value, ok, _ := f.mem.Get(context.Background(), "class-1")
	if !ok || value != 3 {
		t.Errorf("expected mirror restored to 3, got %d (present=%v)", value, ok)
	}
	if len(f.publisher.byType(events.EventBookingConfirmed)) != 0 {
		t.Error("no event must be published for a failed booking")
	}
}

func TestBook_ConcurrentAttemptsNeverOversell(t *testing.T) {
	const capacity = 5
	const attempts = 30

	f := newFixture(counter.NewMemoryCounter())
	class := upcomingClass("class-1", capacity)
	f.classes.findByIDFunc = func(_ context.Context, _ string) (*model.ClassSchedule, error) {
		return class, nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), fmt.Sprintf("user-%d", n), "class-1")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	full := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperrors.HasReason(err, apperrors.ReasonClassFull):
			full++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if succeeded != capacity {
		t.Errorf("expected exactly %d successful bookings, got %d", capacity, succeeded)
	}
	if full != attempts-capacity {
		t.Errorf("expected %d class-full rejections, got %d", attempts-capacity, full)
	}
	if len(f.bookings.inserted) != capacity {
		t.Errorf("expected %d bookings written, got %d", capacity, len(f.bookings.inserted))
	}
}

func TestCancel_RefundsWithEnoughNotice(t *testing.T) {
	f := newFixture(counter.NewMemoryCounter())
	class := upcomingClass("class-1", 2)
	class.StartTime = time.Now().UTC().Add(6 * time.Hour)
	class.EndTime = class.StartTime.Add(time.Hour)

	booking := &model.Booking{
		ID:          "booking-1",
		UserID:      "user-1",
		ClassID:     "class-1",
		GrantID:     "grant-1",
		CreditsUsed: 2,
		Status:      model.BookingConfirmed,
	}

	f.bookings.findByIDFunc = func(_ context.Context, _ string) (*model.Booking, error) {
		return booking, nil
	}
	f.classes.findByIDFunc = func(_ context.Context, _ string) (*model.ClassSchedule, error) {
		return class, nil
	}

	var refundedGrant string
	var refundedAmount int
	f.grants.refundFunc = func(_ context.Context, grantID string, amount int) error {
		refundedGrant = grantID
		refundedAmount = amount
		return nil
	}

	slotReleased := false
	f.classes.incrementSlotsFunc = func(_ context.Context, _ string) error {
		slotReleased = true
		return nil
	}

	f.mem.SetIfAbsent(context.Background(), "class-1", 2)

	result, err := f.svc.Cancel(context.Background(), "user-1", "booking-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Refunded || result.RefundedCredits != 2 {
		t.Errorf("expected refund of 2 credits, got %+v", result)
	}
	if refundedGrant != "grant-1" || refundedAmount != 2 {
		t.Errorf("refund must go to the original grant, got %s/%d", refundedGrant, refundedAmount)
	}
	if !slotReleased {
		t.Error("expected ledger slot to be released")
	}

	// Post-commit mirror increment.
	value, _, _ := f.mem.Get(context.Background(), "class-1")
	if value != 3 {
		t.Errorf("expected mirror incremented to 3, got %d", value)
	}

	if len(f.publisher.byType(events.EventBookingCancelled)) != 1 {
		t.Error("expected one cancelled event")
	}
}

func TestCancel_NoRefundWithShortNotice(t *testing.T) {
	f := newFixture(counter.NewMemoryCounter())
	class := upcomingClass("class-1", 2)
	class.StartTime = time.Now().UTC().Add(time.Hour)
	class.EndTime = class.StartTime.Add(time.Hour)

	f.bookings.findByIDFunc = func(_ context.Context, _ string) (*model.Booking, error) {
		return &model.Booking{
			ID: "booking-1", UserID: "user-1", ClassID: "class-1",
			GrantID: "grant-1", CreditsUsed: 2, Status: model.BookingConfirmed,
		}, nil
	}
	f.classes.findByIDFunc = func(_ context.Context, _ string) (*model.ClassSchedule, error) {
		return class, nil
	}
	f.grants.refundFunc = func(_ context.Context, _ string, _ int) error {
		t.Error("no refund must be issued with under 4 hours notice")
		return nil
	}

	result, err := f.svc.Cancel(context.Background(), "user-1", "booking-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Refunded || result.RefundedCredits != 0 {
		t.Errorf("expected no refund, got %+v", result)
	}
}

func TestCancel_AlreadyCancelledRejected(t *testing.T) {
	f := newFixture(counter.NewMemoryCounter())
	f.bookings.findByIDFunc = func(_ context.Context, _ string) (*model.Booking, error) {
		return &model.Booking{ID: "b1", UserID: "user-1", ClassID: "class-1", IsCancelled: true}, nil
	}

	_, err := f.svc.Cancel(context.Background(), "user-1", "b1")
	if !apperrors.HasReason(err, apperrors.ReasonAlreadyCancelled) {
		t.Errorf("expected %s conflict, got %v", apperrors.ReasonAlreadyCancelled, err)
	}
}

// A member who checked in early can still change their mind before the class
// starts. The slot is released; the short notice rules out a refund.
func TestCancel_CheckedInBookingBeforeStart(t *testing.T) {
	f := newFixture(counter.NewMemoryCounter())
	class := upcomingClass("class-1", 2)
	class.StartTime = time.Now().UTC().Add(10 * time.Minute)
	class.EndTime = class.StartTime.Add(time.Hour)

	checkedIn := time.Now().UTC().Add(-time.Minute)
	f.bookings.findByIDFunc = func(_ context.Context, _ string) (*model.Booking, error) {
		return &model.Booking{
			ID: "b1", UserID: "user-1", ClassID: "class-1",
			GrantID: "grant-1", CreditsUsed: 2,
			Status: model.BookingCheckedIn, CheckedInAt: &checkedIn,
		}, nil
	}
	f.classes.findByIDFunc = func(_ context.Context, _ string) (*model.ClassSchedule, error) {
		return class, nil
	}

	var slotReleased bool
	f.classes.incrementSlotsFunc = func(_ context.Context, _ string) error {
		slotReleased = true
		return nil
	}

	result, err := f.svc.Cancel(context.Background(), "user-1", "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Refunded {
		t.Error("expected no refund with under 4 hours notice")
	}
	if !slotReleased {
		t.Error("expected ledger slot to be released")
	}
}

func TestCancel_RejectedAfterClassStart(t *testing.T) {
	f := newFixture(counter.NewMemoryCounter())
	class := upcomingClass("class-1", 2)
	class.StartTime = time.Now().UTC().Add(-time.Minute)
	class.EndTime = class.StartTime.Add(time.Hour)

	f.bookings.findByIDFunc = func(_ context.Context, _ string) (*model.Booking, error) {
		return &model.Booking{ID: "b1", UserID: "user-1", ClassID: "class-1", Status: model.BookingConfirmed}, nil
	}
	f.classes.findByIDFunc = func(_ context.Context, _ string) (*model.ClassSchedule, error) {
		return class, nil
	}

	_, err := f.svc.Cancel(context.Background(), "user-1", "b1")
	if !apperrors.HasReason(err, apperrors.ReasonClassStarted) {
		t.Errorf("expected %s conflict, got %v", apperrors.ReasonClassStarted, err)
	}
}

func TestCheckIn_WithinWindow(t *testing.T) {
	f := newFixture(counter.NewMemoryCounter())
	class := upcomingClass("class-1", 2)
	class.StartTime = time.Now().UTC().Add(10 * time.Minute)
	class.EndTime = class.StartTime.Add(time.Hour)

	f.bookings.findByIDFunc = func(_ context.Context, _ string) (*model.Booking, error) {
		return &model.Booking{ID: "b1", UserID: "user-1", ClassID: "class-1", Status: model.BookingConfirmed}, nil
	}
	f.classes.findByIDFunc = func(_ context.Context, _ string) (*model.ClassSchedule, error) {
		return class, nil
	}

	result, err := f.svc.CheckIn(context.Background(), "user-1", "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.CheckedInAt.IsZero() {
		t.Errorf("expected successful check-in, got %+v", result)
	}
	if len(f.publisher.byType(events.EventBookingCheckedIn)) != 1 {
		t.Error("expected one checked-in event")
	}
}

func TestCheckIn_TooEarlyAndClosed(t *testing.T) {
	tests := []struct {
		name    string
		startIn time.Duration
		reason  string
	}{
		{"too early", time.Hour, apperrors.ReasonCheckInTooEarly},
		{"window closed", -3 * time.Hour, apperrors.ReasonCheckInClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(counter.NewMemoryCounter())
			class := upcomingClass("class-1", 2)
			class.StartTime = time.Now().UTC().Add(tt.startIn)
			class.EndTime = class.StartTime.Add(time.Hour)

			f.bookings.findByIDFunc = func(_ context.Context, _ string) (*model.Booking, error) {
				return &model.Booking{ID: "b1", UserID: "user-1", ClassID: "class-1", Status: model.BookingConfirmed}, nil
			}
			f.classes.findByIDFunc = func(_ context.Context, _ string) (*model.ClassSchedule, error) {
				return class, nil
			}

			_, err := f.svc.CheckIn(context.Background(), "user-1", "b1")
			if !apperrors.HasReason(err, tt.reason) {
				t.Errorf("expected %s conflict, got %v", tt.reason, err)
			}
		})
	}
}

func TestCheckIn_OtherUsersBookingHidden(t *testing.T) {
	f := newFixture(counter.NewMemoryCounter())
	f.bookings.findByIDFunc = func(_ context.Context, _ string) (*model.Booking, error) {
		return &model.Booking{ID: "b1", UserID: "someone-else", ClassID: "class-1"}, nil
	}

	_, err := f.svc.CheckIn(context.Background(), "user-1", "b1")
	appErr := apperrors.AsAppError(err)
	if appErr.Code != apperrors.CodeNotFound {
		t.Errorf("expected %s for another user's booking, got %v", apperrors.CodeNotFound, err)
	}
}

func TestList_ComputesActionHints(t *testing.T) {
	f := newFixture(counter.NewMemoryCounter())
	now := time.Now().UTC()

	upcoming := upcomingClass("class-1", 2)
	inWindow := upcomingClass("class-2", 2)
	inWindow.StartTime = now.Add(5 * time.Minute)
	inWindow.EndTime = inWindow.StartTime.Add(time.Hour)

	f.bookings.listByUserFunc = func(_ context.Context, _ string, _ string, _ int, _ int64) ([]*repository.BookingWithClass, error) {
		return []*repository.BookingWithClass{
			{Booking: model.Booking{ID: "b1", ClassID: "class-1", Status: model.BookingConfirmed}, Class: *upcoming},
			{Booking: model.Booking{ID: "b2", ClassID: "class-2", Status: model.BookingConfirmed}, Class: *inWindow},
			{Booking: model.Booking{ID: "b3", ClassID: "class-1", Status: model.BookingCancelled, IsCancelled: true}, Class: *upcoming},
		}, nil
	}
	f.bookings.countByUserFunc = func(_ context.Context, _ string, _ string) (int64, error) {
		return 3, nil
	}

	summaries, count, err := f.svc.List(context.Background(), "user-1", "", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 || len(summaries) != 3 {
		t.Fatalf("expected 3 bookings, got %d (count=%d)", len(summaries), count)
	}

	if !summaries[0].CanCancel || summaries[0].CanCheckIn {
		t.Errorf("far-future booking: expected cancel-only, got %+v", summaries[0])
	}
	if !summaries[1].CanCheckIn {
		t.Errorf("in-window booking: expected check-in allowed, got %+v", summaries[1])
	}
	if summaries[2].CanCancel || summaries[2].CanCheckIn {
		t.Errorf("cancelled booking: expected no actions, got %+v", summaries[2])
	}
}

func TestList_RejectsUnknownStatus(t *testing.T) {
	f := newFixture(counter.NewMemoryCounter())

	_, _, err := f.svc.List(context.Background(), "user-1", "Pending", 10, 0)
	appErr := apperrors.AsAppError(err)
	if appErr.Code != apperrors.CodeInvalidInput {
		t.Errorf("expected %s, got %v", apperrors.CodeInvalidInput, err)
	}
}
