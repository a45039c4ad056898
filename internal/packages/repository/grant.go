package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	packageserrors "classbook/internal/packages/errors"
	"classbook/pkg/config"
	mongotx "classbook/pkg/db/mongo"
	"classbook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	PackagesCollection = "CreditPackages"
	GrantsCollection   = "CreditGrants"
)

type mongoGrantRepository struct {
	cfg       *config.Config
	db        *mongo.Database
	packages  *mongo.Collection
	grants    *mongo.Collection
	txManager mongotx.TransactionManager
}

type GrantRepository interface {
	CreatePackage(ctx context.Context, pkg *model.Package) error
	FindPackageByID(ctx context.Context, id string) (*model.Package, error)
	ListPackages(ctx context.Context, activeOnly bool) ([]*model.Package, error)

	CreateGrant(ctx context.Context, grant *model.CreditGrant) error
	FindGrantByID(ctx context.Context, id string) (*model.CreditGrant, error)
	ListGrantsByUser(ctx context.Context, userID string) ([]*model.CreditGrant, error)

	// FindEligibleGrant selects the usable grant expiring soonest, so credits
	// closest to being lost are spent first. Returns ErrNoEligibleGrant when
	// nothing can fund the cost.
	FindEligibleGrant(ctx context.Context, userID string, cost int, now time.Time) (*model.CreditGrant, error)

	// DeductCredits subtracts cost only while remaining_credits >= cost and
	// the grant is unexpired. Returns ErrGrantChanged when the guard matched
	// nothing.
	DeductCredits(ctx context.Context, grantID string, cost int, now time.Time) error

	// RefundCredits returns credits to the grant the booking was paid from,
	// even if that grant has meanwhile expired.
	RefundCredits(ctx context.Context, grantID string, amount int) error

	ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error
}

func NewMongoGrantRepository(cfg *config.Config) GrantRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoGrantRepository{
		cfg:       cfg,
		db:        db,
		packages:  db.Collection(PackagesCollection),
		grants:    db.Collection(GrantsCollection),
		txManager: mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

func (r *mongoGrantRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *mongoGrantRepository) CreatePackage(ctx context.Context, pkg *model.Package) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	pkg.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	result, err := r.packages.InsertOne(ctx, pkg)
	if err != nil {
		return fmt.Errorf("failed to create credit package: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		pkg.ID = oid.Hex()
	}
	return nil
}

func (r *mongoGrantRepository) FindPackageByID(ctx context.Context, id string) (*model.Package, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", packageserrors.ErrInvalidID, id)
	}

	var pkg model.Package
	err = r.packages.FindOne(ctx, bson.M{"_id": objectID}).Decode(&pkg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", packageserrors.ErrPackageNotFound, id)
		}
		return nil, fmt.Errorf("failed to find credit package: %w", err)
	}

	return &pkg, nil
}

func (r *mongoGrantRepository) ListPackages(ctx context.Context, activeOnly bool) ([]*model.Package, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{}
	if activeOnly {
		filter = bson.M{"is_active": true}
	}

	opts := options.Find().SetSort(bson.D{{Key: "price_cents", Value: 1}})

	cursor, err := r.packages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit packages: %w", err)
	}
	defer cursor.Close(ctx)

	var packages []*model.Package
	if err = cursor.All(ctx, &packages); err != nil {
		return nil, fmt.Errorf("failed to decode credit packages: %w", err)
	}
	return packages, nil
}

func (r *mongoGrantRepository) CreateGrant(ctx context.Context, grant *model.CreditGrant) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	result, err := r.grants.InsertOne(ctx, grant)
	if err != nil {
		return fmt.Errorf("failed to create credit grant: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		grant.ID = oid.Hex()
	}
	return nil
}

func (r *mongoGrantRepository) FindGrantByID(ctx context.Context, id string) (*model.CreditGrant, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", packageserrors.ErrInvalidID, id)
	}

	var grant model.CreditGrant
	err = r.grants.FindOne(ctx, bson.M{"_id": objectID}).Decode(&grant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", packageserrors.ErrGrantNotFound, id)
		}
		return nil, fmt.Errorf("failed to find credit grant: %w", err)
	}

	return &grant, nil
}

func (r *mongoGrantRepository) ListGrantsByUser(ctx context.Context, userID string) ([]*model.CreditGrant, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}})

	cursor, err := r.grants.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit grants: %w", err)
	}
	defer cursor.Close(ctx)

	var grants []*model.CreditGrant
	if err = cursor.All(ctx, &grants); err != nil {
		return nil, fmt.Errorf("failed to decode credit grants: %w", err)
	}
	return grants, nil
}

func (r *mongoGrantRepository) FindEligibleGrant(ctx context.Context, userID string, cost int, now time.Time) (*model.CreditGrant, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"user_id":           userID,
		"is_expired":        false,
		"expires_at":        bson.M{"$gt": now},
		"remaining_credits": bson.M{"$gte": cost},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "expires_at", Value: 1}})

	var grant model.CreditGrant
	err := r.grants.FindOne(ctx, filter, opts).Decode(&grant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: user %s", packageserrors.ErrNoEligibleGrant, userID)
		}
		return nil, fmt.Errorf("failed to find eligible credit grant: %w", err)
	}

	return &grant, nil
}

func (r *mongoGrantRepository) DeductCredits(ctx context.Context, grantID string, cost int, now time.Time) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(grantID)
	if err != nil {
		return fmt.Errorf("%w: %s", packageserrors.ErrInvalidID, grantID)
	}

	filter := bson.M{
		"_id":               objectID,
		"is_expired":        false,
		"expires_at":        bson.M{"$gt": now},
		"remaining_credits": bson.M{"$gte": cost},
	}
	update := bson.M{"$inc": bson.M{"remaining_credits": -cost}}

	result, err := r.grants.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to deduct credits: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", packageserrors.ErrGrantChanged, grantID)
	}
	return nil
}

func (r *mongoGrantRepository) RefundCredits(ctx context.Context, grantID string, amount int) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(grantID)
	if err != nil {
		return fmt.Errorf("%w: %s", packageserrors.ErrInvalidID, grantID)
	}

	update := bson.M{"$inc": bson.M{"remaining_credits": amount}}

	result, err := r.grants.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	if err != nil {
		return fmt.Errorf("failed to refund credits: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", packageserrors.ErrGrantNotFound, grantID)
	}
	return nil
}

func (r *mongoGrantRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}
