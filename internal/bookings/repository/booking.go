package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	bookingserrors "classbook/internal/bookings/errors"
	schedulesrepo "classbook/internal/schedules/repository"
	"classbook/pkg/config"
	mongotx "classbook/pkg/db/mongo"
	"classbook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CollectionName = "Bookings"

// BookingWithClass joins a booking with its class for list views and overlap
// checks, avoiding one round trip per booking.
type BookingWithClass struct {
	model.Booking `bson:",inline"`
	Class         model.ClassSchedule `bson:"class"`
}

type mongoBookingRepository struct {
	cfg        *config.Config
	db         *mongo.Database
	collection *mongo.Collection
	txManager  mongotx.TransactionManager
}

type BookingRepository interface {
	// Create inserts a booking. Returns ErrDuplicate when the unique index on
	// active (user, class) pairs rejects it.
	Create(ctx context.Context, booking *model.Booking) error

	FindByID(ctx context.Context, id string) (*model.Booking, error)

	// FindActiveByUserAndClass returns the user's non-cancelled booking for
	// the class, or ErrNotFound.
	FindActiveByUserAndClass(ctx context.Context, userID string, classID string) (*model.Booking, error)

	// FindOverlapping returns any active booking of the user whose class
	// interval intersects [start, end). Back-to-back classes do not overlap.
	FindOverlapping(ctx context.Context, userID string, start time.Time, end time.Time) (*BookingWithClass, error)

	ListByUser(ctx context.Context, userID string, status string, limit int, offset int64) ([]*BookingWithClass, error)
	CountByUser(ctx context.Context, userID string, status string) (int64, error)

	// MarkCancelled flips the booking to cancelled only while it is not
	// cancelled already. A checked-in booking may still be cancelled before
	// its class starts. Returns ErrBookingChanged when the guard matched
	// nothing.
	MarkCancelled(ctx context.Context, id string, at time.Time, refunded bool) error

	// MarkCheckedIn records attendance only while the booking is active and
	// not yet checked in. Returns ErrBookingChanged when the guard matched
	// nothing.
	MarkCheckedIn(ctx context.Context, id string, at time.Time) error

	EnsureIndexes(ctx context.Context) error
	ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error
}

func NewMongoBookingRepository(cfg *config.Config) BookingRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoBookingRepository{
		cfg:        cfg,
		db:         db,
		collection: db.Collection(CollectionName),
		txManager:  mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

func (r *mongoBookingRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// EnsureIndexes creates the partial unique index that backstops the duplicate
// precondition: at most one non-cancelled booking per (user, class).
func (r *mongoBookingRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "class_id", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"is_cancelled": false}),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "booked_at", Value: -1},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create booking indexes: %w", err)
	}
	return nil
}

func (r *mongoBookingRepository) Create(ctx context.Context, booking *model.Booking) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	result, err := r.collection.InsertOne(ctx, booking)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: user %s class %s", bookingserrors.ErrDuplicate, booking.UserID, booking.ClassID)
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		booking.ID = oid.Hex()
	}
	return nil
}

func (r *mongoBookingRepository) FindByID(ctx context.Context, id string) (*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", bookingserrors.ErrInvalidID, id)
	}

	var booking model.Booking
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&booking)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", bookingserrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to find booking: %w", err)
	}

	return &booking, nil
}

func (r *mongoBookingRepository) FindActiveByUserAndClass(ctx context.Context, userID string, classID string) (*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"user_id":      userID,
		"class_id":     classID,
		"is_cancelled": false,
	}

	var booking model.Booking
	err := r.collection.FindOne(ctx, filter).Decode(&booking)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: user %s class %s", bookingserrors.ErrNotFound, userID, classID)
		}
		return nil, fmt.Errorf("failed to find active booking: %w", err)
	}

	return &booking, nil
}

// classLookupStages joins each booking with its class document. class_id is
// stored as the hex form of the class ObjectID.
func classLookupStages() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$addFields", Value: bson.M{
			"class_oid": bson.M{"$toObjectId": "$class_id"},
		}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         schedulesrepo.CollectionName,
			"localField":   "class_oid",
			"foreignField": "_id",
			"as":           "class",
		}}},
		{{Key: "$unwind", Value: "$class"}},
	}
}

func (r *mongoBookingRepository) FindOverlapping(ctx context.Context, userID string, start time.Time, end time.Time) (*BookingWithClass, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"user_id":      userID,
			"is_cancelled": false,
		}}},
	}
	pipeline = append(pipeline, classLookupStages()...)
	pipeline = append(pipeline,
		bson.D{{Key: "$match", Value: bson.M{
			"class.start_time": bson.M{"$lt": end},
			"class.end_time":   bson.M{"$gt": start},
		}}},
		bson.D{{Key: "$limit", Value: 1}},
	)

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to check for overlapping bookings: %w", err)
	}
	defer cursor.Close(ctx)

	var results []*BookingWithClass
	if err = cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode overlapping bookings: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: user %s", bookingserrors.ErrNotFound, userID)
	}
	return results[0], nil
}

func (r *mongoBookingRepository) ListByUser(ctx context.Context, userID string, status string, limit int, offset int64) ([]*BookingWithClass, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	match := bson.M{"user_id": userID}
	if status != "" {
		match["status"] = status
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "booked_at", Value: -1}}}},
		{{Key: "$skip", Value: offset}},
		{{Key: "$limit", Value: int64(limit)}},
	}
	pipeline = append(pipeline, classLookupStages()...)

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer cursor.Close(ctx)

	var bookings []*BookingWithClass
	if err = cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("failed to decode bookings: %w", err)
	}
	return bookings, nil
}

func (r *mongoBookingRepository) CountByUser(ctx context.Context, userID string, status string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{"user_id": userID}
	if status != "" {
		filter["status"] = status
	}

	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count bookings: %w", err)
	}
	return count, nil
}

func (r *mongoBookingRepository) MarkCancelled(ctx context.Context, id string, at time.Time, refunded bool) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s", bookingserrors.ErrInvalidID, id)
	}

	filter := bson.M{
		"_id":          objectID,
		"is_cancelled": false,
	}
	update := bson.M{
		"$set": bson.M{
			"is_cancelled": true,
			"cancelled_at": at,
			"is_refunded":  refunded,
			"status":       model.BookingCancelled,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", bookingserrors.ErrBookingChanged, id)
	}
	return nil
}

func (r *mongoBookingRepository) MarkCheckedIn(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s", bookingserrors.ErrInvalidID, id)
	}

	filter := bson.M{
		"_id":           objectID,
		"is_cancelled":  false,
		"checked_in_at": nil,
	}
	update := bson.M{
		"$set": bson.M{
			"checked_in_at": at,
			"status":        model.BookingCheckedIn,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to check in booking: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", bookingserrors.ErrBookingChanged, id)
	}
	return nil
}

func (r *mongoBookingRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}
