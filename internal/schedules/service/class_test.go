package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	scheduleserrors "classbook/internal/schedules/errors"
	"classbook/internal/schedules/validator"
	"classbook/internal/slots"
	"classbook/internal/slots/counter"
	"classbook/pkg/config"
	mongotx "classbook/pkg/db/mongo"
	apperrors "classbook/pkg/errors"
	"classbook/pkg/logger"
	"classbook/pkg/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type mockClassRepository struct {
	createFunc                 func(ctx context.Context, class *model.ClassSchedule) error
	findByIDFunc               func(ctx context.Context, id string) (*model.ClassSchedule, error)
	findAllFunc                func(ctx context.Context, limit int, offset int64, upcomingOnly bool) ([]*model.ClassSchedule, error)
	countFunc                  func(ctx context.Context, upcomingOnly bool) (int64, error)
	updateFunc                 func(ctx context.Context, id string, class *model.ClassSchedule) error
	deleteFunc                 func(ctx context.Context, id string) error
	decrementSlotsFunc         func(ctx context.Context, id string) error
	incrementSlotsFunc         func(ctx context.Context, id string) error
	syncSlotsFunc              func(ctx context.Context, id string, available int) error
	setCapacityFunc            func(ctx context.Context, id string, capacity int, available int) error
	countConfirmedBookingsFunc func(ctx context.Context, classID string) (int64, error)
}

func (m *mockClassRepository) Create(ctx context.Context, class *model.ClassSchedule) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, class)
	}
	return nil
}

func (m *mockClassRepository) FindByID(ctx context.Context, id string) (*model.ClassSchedule, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, scheduleserrors.ErrNotFound
}

func (m *mockClassRepository) FindAll(ctx context.Context, limit int, offset int64, upcomingOnly bool) ([]*model.ClassSchedule, error) {
	if m.findAllFunc != nil {
		return m.findAllFunc(ctx, limit, offset, upcomingOnly)
	}
	return []*model.ClassSchedule{}, nil
}

func (m *mockClassRepository) Count(ctx context.Context, upcomingOnly bool) (int64, error) {
	if m.countFunc != nil {
		return m.countFunc(ctx, upcomingOnly)
	}
	return 0, nil
}

func (m *mockClassRepository) Update(ctx context.Context, id string, class *model.ClassSchedule) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, id, class)
	}
	return nil
}

func (m *mockClassRepository) Delete(ctx context.Context, id string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id)
	}
	return nil
}

func (m *mockClassRepository) DecrementSlots(ctx context.Context, id string) error {
	if m.decrementSlotsFunc != nil {
		return m.decrementSlotsFunc(ctx, id)
	}
	return nil
}

func (m *mockClassRepository) IncrementSlots(ctx context.Context, id string) error {
	if m.incrementSlotsFunc != nil {
		return m.incrementSlotsFunc(ctx, id)
	}
	return nil
}

func (m *mockClassRepository) SyncSlots(ctx context.Context, id string, available int) error {
	if m.syncSlotsFunc != nil {
		return m.syncSlotsFunc(ctx, id, available)
	}
	return nil
}

func (m *mockClassRepository) SetCapacity(ctx context.Context, id string, capacity int, available int) error {
	if m.setCapacityFunc != nil {
		return m.setCapacityFunc(ctx, id, capacity, available)
	}
	return nil
}

func (m *mockClassRepository) CountConfirmedBookings(ctx context.Context, classID string) (int64, error) {
	if m.countConfirmedBookingsFunc != nil {
		return m.countConfirmedBookingsFunc(ctx, classID)
	}
	return 0, nil
}

func (m *mockClassRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return fn(mongo.NewSessionContext(ctx, nil))
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

func newTestService(repo *mockClassRepository, mem *counter.MemoryCounter) ClassService {
	cfg := testConfig()
	coordinator := slots.NewCoordinator(mem, 200*time.Millisecond, cfg.Log)
	return NewClassService(repo, validator.NewClassValidator(cfg.Log), coordinator, cfg)
}

func futureClass() *model.ClassSchedule {
	start := time.Now().UTC().Add(24 * time.Hour)
	return &model.ClassSchedule{
		Title:           "Morning Yoga",
		StartTime:       start,
		EndTime:         start.Add(time.Hour),
		Capacity:        10,
		RequiredCredits: 2,
	}
}

func TestCreate_InitializesSlotsFromCapacity(t *testing.T) {
	var created *model.ClassSchedule
	repo := &mockClassRepository{
		createFunc: func(_ context.Context, class *model.ClassSchedule) error {
			created = class
			return nil
		},
	}
	svc := newTestService(repo, counter.NewMemoryCounter())

	class := futureClass()
	class.AvailableSlots = 3 // client-supplied value must be ignored

	if err := svc.Create(context.Background(), class); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil {
		t.Fatal("expected repository create to be called")
	}
	if created.AvailableSlots != created.Capacity {
		t.Errorf("expected available slots %d, got %d", created.Capacity, created.AvailableSlots)
	}
	if !created.IsActive {
		t.Error("expected new class to be active")
	}
}

func TestCreate_RejectsPastStartTime(t *testing.T) {
	svc := newTestService(&mockClassRepository{}, counter.NewMemoryCounter())

	class := futureClass()
	class.StartTime = time.Now().UTC().Add(-time.Hour)
	class.EndTime = class.StartTime.Add(time.Hour)

	err := svc.Create(context.Background(), class)
	if err == nil {
		t.Fatal("expected validation error for past start time")
	}
	appErr := apperrors.AsAppError(err)
	if appErr.Code != apperrors.CodeValidation {
		t.Errorf("expected %s, got %s", apperrors.CodeValidation, appErr.Code)
	}
}

func TestCreate_RejectsEndBeforeStart(t *testing.T) {
	svc := newTestService(&mockClassRepository{}, counter.NewMemoryCounter())

	class := futureClass()
	class.EndTime = class.StartTime.Add(-time.Minute)

	err := svc.Create(context.Background(), class)
	if err == nil {
		t.Fatal("expected validation error when end precedes start")
	}
}

func TestGetByID_MapsNotFound(t *testing.T) {
	repo := &mockClassRepository{
		findByIDFunc: func(_ context.Context, id string) (*model.ClassSchedule, error) {
			return nil, fmt.Errorf("%w: %s", scheduleserrors.ErrNotFound, id)
		},
	}
	svc := newTestService(repo, counter.NewMemoryCounter())

	_, err := svc.GetByID(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	appErr := apperrors.AsAppError(err)
	if appErr.Code != apperrors.CodeNotFound {
		t.Errorf("expected %s, got %s", apperrors.CodeNotFound, appErr.Code)
	}
}

func TestResize_RecomputesAvailableFromConfirmed(t *testing.T) {
	class := futureClass()
	class.ID = "class-1"
	class.AvailableSlots = 6

	var gotCapacity, gotAvailable int
	repo := &mockClassRepository{
		findByIDFunc: func(_ context.Context, _ string) (*model.ClassSchedule, error) {
			return class, nil
		},
		countConfirmedBookingsFunc: func(_ context.Context, _ string) (int64, error) {
			return 4, nil
		},
		setCapacityFunc: func(_ context.Context, _ string, capacity int, available int) error {
			gotCapacity = capacity
			gotAvailable = available
			return nil
		},
	}

	mem := counter.NewMemoryCounter()
	mem.SetIfAbsent(context.Background(), "class-1", 6)
	svc := newTestService(repo, mem)

	if err := svc.Resize(context.Background(), "class-1", 12); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotCapacity != 12 || gotAvailable != 8 {
		t.Errorf("expected capacity 12 with 8 available, got %d/%d", gotCapacity, gotAvailable)
	}

	// The stale mirror must be dropped so the next booking reseeds it.
	if _, ok, _ := mem.Get(context.Background(), "class-1"); ok {
		t.Error("expected slot mirror to be invalidated after resize")
	}
}

func TestResize_RejectsCapacityBelowConfirmed(t *testing.T) {
	repo := &mockClassRepository{
		findByIDFunc: func(_ context.Context, _ string) (*model.ClassSchedule, error) {
			class := futureClass()
			class.ID = "class-1"
			return class, nil
		},
		countConfirmedBookingsFunc: func(_ context.Context, _ string) (int64, error) {
			return 7, nil
		},
		setCapacityFunc: func(_ context.Context, _ string, _ int, _ int) error {
			t.Error("capacity must not be written when validation fails")
			return nil
		},
	}
	svc := newTestService(repo, counter.NewMemoryCounter())

	err := svc.Resize(context.Background(), "class-1", 5)
	if err == nil {
		t.Fatal("expected error when shrinking below confirmed bookings")
	}
	appErr := apperrors.AsAppError(err)
	if appErr.Code != apperrors.CodeValidation {
		t.Errorf("expected %s, got %s", apperrors.CodeValidation, appErr.Code)
	}
}

func TestDelete_RefusedWithConfirmedBookings(t *testing.T) {
	repo := &mockClassRepository{
		countConfirmedBookingsFunc: func(_ context.Context, _ string) (int64, error) {
			return 2, nil
		},
		deleteFunc: func(_ context.Context, _ string) error {
			t.Error("class must not be deleted while bookings exist")
			return nil
		},
	}
	svc := newTestService(repo, counter.NewMemoryCounter())

	err := svc.Delete(context.Background(), "class-1")
	if !apperrors.HasReason(err, apperrors.ReasonClassHasBookings) {
		t.Errorf("expected %s conflict, got %v", apperrors.ReasonClassHasBookings, err)
	}
}

func TestUpdate_MergesPartialFields(t *testing.T) {
	existing := futureClass()
	existing.ID = primitive.NewObjectID().Hex()
	existing.Description = "original"

	var updated *model.ClassSchedule
	repo := &mockClassRepository{
		findByIDFunc: func(_ context.Context, _ string) (*model.ClassSchedule, error) {
			return existing, nil
		},
		updateFunc: func(_ context.Context, _ string, class *model.ClassSchedule) error {
			updated = class
			return nil
		},
	}
	svc := newTestService(repo, counter.NewMemoryCounter())

	newTitle := "Evening Yoga"
	if err := svc.Update(context.Background(), existing.ID, &model.ClassScheduleUpdate{Title: newTitle}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Title != newTitle {
		t.Errorf("expected title %q, got %q", newTitle, updated.Title)
	}
	if updated.Description != "original" {
		t.Errorf("untouched fields must survive the merge, got description %q", updated.Description)
	}
}
