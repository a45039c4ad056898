package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	scheduleserrors "classbook/internal/schedules/errors"
	"classbook/pkg/config"
	mongotx "classbook/pkg/db/mongo"
	"classbook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "ClassSchedules"

	// bookingsCollection is read here only to count confirmed bookings
	// during a capacity change. Booking writes live in the bookings package.
	bookingsCollection = "Bookings"
)

type mongoClassRepository struct {
	cfg        *config.Config
	db         *mongo.Database
	collection *mongo.Collection
	bookings   *mongo.Collection
	txManager  mongotx.TransactionManager
}

type ClassRepository interface {
	Create(ctx context.Context, class *model.ClassSchedule) error
	FindByID(ctx context.Context, id string) (*model.ClassSchedule, error)
	FindAll(ctx context.Context, limit int, offset int64, upcomingOnly bool) ([]*model.ClassSchedule, error)
	Count(ctx context.Context, upcomingOnly bool) (int64, error)
	Update(ctx context.Context, id string, class *model.ClassSchedule) error
	Delete(ctx context.Context, id string) error

	// DecrementSlots takes one slot only while available_slots > 0. Returns
	// ErrNoSlots when the guard matched nothing.
	DecrementSlots(ctx context.Context, id string) error

	// IncrementSlots returns one slot only while available_slots < capacity.
	// Returns ErrCapacityReached when the guard matched nothing.
	IncrementSlots(ctx context.Context, id string) error

	// SyncSlots overwrites available_slots with a value derived from the
	// fast-path mirror. The caller clamps it to [0, capacity].
	SyncSlots(ctx context.Context, id string, available int) error

	// SetCapacity writes a recomputed capacity and available pair in one
	// update. Runs inside a resize transaction.
	SetCapacity(ctx context.Context, id string, capacity int, available int) error

	CountConfirmedBookings(ctx context.Context, classID string) (int64, error)
	ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error
}

func NewMongoClassRepository(cfg *config.Config) ClassRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoClassRepository{
		cfg:        cfg,
		db:         db,
		collection: db.Collection(CollectionName),
		bookings:   db.Collection(bookingsCollection),
		txManager:  mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

// withTimeout wraps the context with a timeout unless already inside a
// transaction, where wrapping the SessionContext would break its semantics.
func (r *mongoClassRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *mongoClassRepository) Create(ctx context.Context, class *model.ClassSchedule) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	class.CreatedAt = now
	class.UpdatedAt = now

	result, err := r.collection.InsertOne(ctx, class)
	if err != nil {
		return fmt.Errorf("failed to create class schedule: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		class.ID = oid.Hex()
	}
	return nil
}

func (r *mongoClassRepository) FindByID(ctx context.Context, id string) (*model.ClassSchedule, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", scheduleserrors.ErrInvalidID, id)
	}

	var class model.ClassSchedule
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&class)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", scheduleserrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to find class schedule: %w", err)
	}

	return &class, nil
}

func (r *mongoClassRepository) FindAll(ctx context.Context, limit int, offset int64, upcomingOnly bool) ([]*model.ClassSchedule, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{}
	sort := bson.D{{Key: "created_at", Value: -1}}
	if upcomingOnly {
		filter = bson.M{
			"is_active":  true,
			"start_time": bson.M{"$gt": time.Now().UTC()},
		}
		sort = bson.D{{Key: "start_time", Value: 1}}
	}

	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(offset).
		SetSort(sort)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query class schedules: %w", err)
	}
	defer cursor.Close(ctx)

	var classes []*model.ClassSchedule
	if err = cursor.All(ctx, &classes); err != nil {
		return nil, fmt.Errorf("failed to decode class schedules: %w", err)
	}
	return classes, nil
}

func (r *mongoClassRepository) Count(ctx context.Context, upcomingOnly bool) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{}
	if upcomingOnly {
		filter = bson.M{
			"is_active":  true,
			"start_time": bson.M{"$gt": time.Now().UTC()},
		}
	}

	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count class schedules: %w", err)
	}
	return count, nil
}

func (r *mongoClassRepository) Update(ctx context.Context, id string, class *model.ClassSchedule) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s", scheduleserrors.ErrInvalidID, id)
	}

	update := bson.M{
		"$set": bson.M{
			"title":            class.Title,
			"description":      class.Description,
			"start_time":       class.StartTime,
			"end_time":         class.EndTime,
			"required_credits": class.RequiredCredits,
			"is_active":        class.IsActive,
			"updated_at":       time.Now().UTC().Truncate(time.Millisecond),
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	if err != nil {
		return fmt.Errorf("failed to update class schedule: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", scheduleserrors.ErrNotFound, id)
	}
	return nil
}

func (r *mongoClassRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s", scheduleserrors.ErrInvalidID, id)
	}

	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": objectID})
	if err != nil {
		return fmt.Errorf("failed to delete class schedule: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", scheduleserrors.ErrNotFound, id)
	}
	return nil
}

func (r *mongoClassRepository) DecrementSlots(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s", scheduleserrors.ErrInvalidID, id)
	}

	filter := bson.M{
		"_id":             objectID,
		"available_slots": bson.M{"$gt": 0},
	}
	update := bson.M{"$inc": bson.M{"available_slots": -1}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to decrement available slots: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", scheduleserrors.ErrNoSlots, id)
	}
	return nil
}

func (r *mongoClassRepository) IncrementSlots(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s", scheduleserrors.ErrInvalidID, id)
	}

	filter := bson.M{
		"_id":   objectID,
		"$expr": bson.M{"$lt": bson.A{"$available_slots", "$capacity"}},
	}
	update := bson.M{"$inc": bson.M{"available_slots": 1}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to increment available slots: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", scheduleserrors.ErrCapacityReached, id)
	}
	return nil
}

func (r *mongoClassRepository) SyncSlots(ctx context.Context, id string, available int) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s", scheduleserrors.ErrInvalidID, id)
	}

	update := bson.M{"$set": bson.M{"available_slots": available}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	if err != nil {
		return fmt.Errorf("failed to sync available slots: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", scheduleserrors.ErrNotFound, id)
	}
	return nil
}

func (r *mongoClassRepository) SetCapacity(ctx context.Context, id string, capacity int, available int) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s", scheduleserrors.ErrInvalidID, id)
	}

	update := bson.M{
		"$set": bson.M{
			"capacity":        capacity,
			"available_slots": available,
			"updated_at":      time.Now().UTC().Truncate(time.Millisecond),
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	if err != nil {
		return fmt.Errorf("failed to set class capacity: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", scheduleserrors.ErrNotFound, id)
	}
	return nil
}

func (r *mongoClassRepository) CountConfirmedBookings(ctx context.Context, classID string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.bookings.CountDocuments(ctx, bson.M{
		"class_id":     classID,
		"is_cancelled": false,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count confirmed bookings: %w", err)
	}
	return count, nil
}

func (r *mongoClassRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}
