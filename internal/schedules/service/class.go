package service

import (
	"context"
	"errors"
	"sync"

	scheduleserrors "classbook/internal/schedules/errors"
	"classbook/internal/schedules/repository"
	"classbook/internal/schedules/validator"
	"classbook/internal/slots"
	"classbook/pkg/config"
	apperrors "classbook/pkg/errors"
	"classbook/pkg/model"

	"go.mongodb.org/mongo-driver/mongo"
)

type ClassService interface {
	Create(ctx context.Context, class *model.ClassSchedule) error
	GetByID(ctx context.Context, id string) (*model.ClassSchedule, error)
	GetAll(ctx context.Context, limit int, offset int64, upcomingOnly bool) ([]*model.ClassSchedule, int64, error)
	Update(ctx context.Context, id string, updates *model.ClassScheduleUpdate) error
	Resize(ctx context.Context, id string, capacity int) error
	Delete(ctx context.Context, id string) error
}

type classService struct {
	repo        repository.ClassRepository
	validator   *validator.ClassValidator
	coordinator *slots.Coordinator
	cfg         *config.Config
}

func NewClassService(
	repo repository.ClassRepository,
	validator *validator.ClassValidator,
	coordinator *slots.Coordinator,
	cfg *config.Config,
) ClassService {
	return &classService{
		repo:        repo,
		validator:   validator,
		coordinator: coordinator,
		cfg:         cfg,
	}
}

func (s *classService) Create(ctx context.Context, class *model.ClassSchedule) error {
	// A new class always opens fully available and active.
	class.AvailableSlots = class.Capacity
	class.IsActive = true

	if err := s.validator.Validate(class, true); err != nil {
		s.cfg.Log.Warn("Class schedule validation failed",
			"title", class.Title,
			"error", err,
		)
		return apperrors.Validation("Class schedule validation failed", map[string]any{
			"error": err.Error(),
		})
	}

	if err := s.repo.Create(ctx, class); err != nil {
		s.cfg.Log.Error("Failed to create class schedule",
			"title", class.Title,
			"error", err,
		)
		return apperrors.Internal("Failed to create class schedule", err)
	}

	s.cfg.Log.Info("Class schedule created",
		"id", class.ID,
		"title", class.Title,
		"capacity", class.Capacity,
		"start_time", class.StartTime,
	)
	return nil
}

func (s *classService) GetByID(ctx context.Context, id string) (*model.ClassSchedule, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Class ID cannot be empty")
	}

	class, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, scheduleserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Class schedule", id)
		}
		if errors.Is(err, scheduleserrors.ErrInvalidID) {
			return nil, apperrors.InvalidInput("Invalid class ID format")
		}
		s.cfg.Log.Error("Failed to get class schedule by ID",
			"id", id,
			"error", err,
		)
		return nil, apperrors.Internal("Failed to retrieve class schedule", err)
	}

	return class, nil
}

func (s *classService) GetAll(ctx context.Context, limit int, offset int64, upcomingOnly bool) ([]*model.ClassSchedule, int64, error) {
	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	sharedCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	var count int64
	var classes []*model.ClassSchedule
	var errCount, errFind error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		var err error
		count, err = s.repo.Count(sharedCtx, upcomingOnly)
		if err != nil {
			s.cfg.Log.Error("Failed to count class schedules", "error", err)
			errCount = apperrors.Internal("Failed to count class schedules", err)
		}
	}()

	go func() {
		defer wg.Done()
		var err error
		classes, err = s.repo.FindAll(sharedCtx, limit, offset, upcomingOnly)
		if err != nil {
			s.cfg.Log.Error("Failed to list class schedules",
				"limit", limit,
				"offset", offset,
				"error", err,
			)
			errFind = apperrors.Internal("Failed to retrieve class schedules", err)
		}
	}()

	wg.Wait()
	if errCount != nil {
		return nil, 0, errCount
	}
	if errFind != nil {
		return nil, 0, errFind
	}
	return classes, count, nil
}

func (s *classService) Update(ctx context.Context, id string, updates *model.ClassScheduleUpdate) error {
	if id == "" {
		return apperrors.InvalidInput("Class ID cannot be empty")
	}

	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	merged := s.mergeClassUpdates(existing, updates)
	if err := s.validator.Validate(merged, false); err != nil {
		s.cfg.Log.Warn("Class schedule validation failed",
			"id", id,
			"error", err,
		)
		return apperrors.Validation("Class schedule validation failed", map[string]any{
			"error": err.Error(),
		})
	}

	if err := s.repo.Update(ctx, id, merged); err != nil {
		if errors.Is(err, scheduleserrors.ErrNotFound) {
			return apperrors.NotFoundWithID("Class schedule", id)
		}
		s.cfg.Log.Error("Failed to update class schedule",
			"id", id,
			"error", err,
		)
		return apperrors.Internal("Failed to update class schedule", err)
	}

	s.cfg.Log.Info("Class schedule updated", "id", id, "title", merged.Title)
	return nil
}

// Resize changes a class's capacity. Available slots are recomputed inside the
// transaction as capacity minus confirmed bookings, and the fast-path mirror
// is dropped afterwards so the next booking reseeds it from the ledger.
func (s *classService) Resize(ctx context.Context, id string, capacity int) error {
	if id == "" {
		return apperrors.InvalidInput("Class ID cannot be empty")
	}
	if capacity < 1 {
		return apperrors.InvalidInput("Capacity must be at least 1")
	}

	err := s.repo.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		class, err := s.repo.FindByID(sessCtx, id)
		if err != nil {
			if errors.Is(err, scheduleserrors.ErrNotFound) {
				return apperrors.NotFoundWithID("Class schedule", id)
			}
			if errors.Is(err, scheduleserrors.ErrInvalidID) {
				return apperrors.InvalidInput("Invalid class ID format")
			}
			return apperrors.Internal("Failed to load class schedule", err)
		}

		confirmed, err := s.repo.CountConfirmedBookings(sessCtx, class.ID)
		if err != nil {
			return apperrors.Internal("Failed to count confirmed bookings", err)
		}

		if int64(capacity) < confirmed {
			return apperrors.Validation("Capacity cannot be below the number of confirmed bookings", map[string]any{
				"requested_capacity": capacity,
				"confirmed_bookings": confirmed,
			})
		}

		return s.repo.SetCapacity(sessCtx, id, capacity, capacity-int(confirmed))
	})
	if err != nil {
		s.cfg.Log.Error("Failed to resize class schedule",
			"id", id,
			"capacity", capacity,
			"error", err,
		)
		return err
	}

	s.coordinator.Invalidate(ctx, id)

	s.cfg.Log.Info("Class schedule resized", "id", id, "capacity", capacity)
	return nil
}

func (s *classService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.InvalidInput("Class ID cannot be empty")
	}

	err := s.repo.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		confirmed, err := s.repo.CountConfirmedBookings(sessCtx, id)
		if err != nil {
			return apperrors.Internal("Failed to count confirmed bookings", err)
		}
		if confirmed > 0 {
			return apperrors.Conflict(apperrors.ReasonClassHasBookings,
				"Class has confirmed bookings and cannot be deleted")
		}

		if err := s.repo.Delete(sessCtx, id); err != nil {
			if errors.Is(err, scheduleserrors.ErrNotFound) {
				return apperrors.NotFoundWithID("Class schedule", id)
			}
			if errors.Is(err, scheduleserrors.ErrInvalidID) {
				return apperrors.InvalidInput("Invalid class ID format")
			}
			return apperrors.Internal("Failed to delete class schedule", err)
		}
		return nil
	})
	if err != nil {
		s.cfg.Log.Error("Failed to delete class schedule",
			"id", id,
			"error", err,
		)
		return err
	}

	s.coordinator.Invalidate(ctx, id)

	s.cfg.Log.Info("Class schedule deleted", "id", id)
	return nil
}

func (s *classService) mergeClassUpdates(existing *model.ClassSchedule, updates *model.ClassScheduleUpdate) *model.ClassSchedule {
	merged := *existing

	if updates.Title != "" {
		merged.Title = updates.Title
	}
	if updates.Description != nil {
		merged.Description = *updates.Description
	}
	if updates.StartTime != nil {
		merged.StartTime = *updates.StartTime
	}
	if updates.EndTime != nil {
		merged.EndTime = *updates.EndTime
	}
	if updates.RequiredCredits != nil {
		merged.RequiredCredits = *updates.RequiredCredits
	}
	if updates.IsActive != nil {
		merged.IsActive = *updates.IsActive
	}

	merged.ID = existing.ID
	merged.CreatedAt = existing.CreatedAt
	return &merged
}
