package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	packageserrors "classbook/internal/packages/errors"
	"classbook/internal/packages/repository"
	"classbook/pkg/config"
	apperrors "classbook/pkg/errors"
	"classbook/pkg/model"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type PackageService interface {
	CreatePackage(ctx context.Context, pkg *model.Package) error
	ListPackages(ctx context.Context) ([]*model.Package, error)
	Purchase(ctx context.Context, userID string, packageID string) (*model.CreditGrant, error)
	ListGrants(ctx context.Context, userID string) ([]*model.CreditGrant, int, error)
}

type packageService struct {
	repo     repository.GrantRepository
	validate *validator.Validate
	cfg      *config.Config
}

func NewPackageService(repo repository.GrantRepository, cfg *config.Config) PackageService {
	return &packageService{
		repo:     repo,
		validate: validator.New(),
		cfg:      cfg,
	}
}

func (s *packageService) CreatePackage(ctx context.Context, pkg *model.Package) error {
	pkg.IsActive = true

	if err := s.validate.Struct(pkg); err != nil {
		s.cfg.Log.Warn("Credit package validation failed",
			"name", pkg.Name,
			"error", err,
		)
		return apperrors.Validation("Credit package validation failed", map[string]any{
			"error": err.Error(),
		})
	}

	if err := s.repo.CreatePackage(ctx, pkg); err != nil {
		s.cfg.Log.Error("Failed to create credit package",
			"name", pkg.Name,
			"error", err,
		)
		return apperrors.Internal("Failed to create credit package", err)
	}

	s.cfg.Log.Info("Credit package created",
		"id", pkg.ID,
		"name", pkg.Name,
		"credits", pkg.Credits,
		"validity_days", pkg.ValidityDays,
	)
	return nil
}

func (s *packageService) ListPackages(ctx context.Context) ([]*model.Package, error) {
	packages, err := s.repo.ListPackages(ctx, true)
	if err != nil {
		s.cfg.Log.Error("Failed to list credit packages", "error", err)
		return nil, apperrors.Internal("Failed to retrieve credit packages", err)
	}
	return packages, nil
}

// Purchase charges the user through the payment provider stub and issues a
// grant valid for the package's validity window.
func (s *packageService) Purchase(ctx context.Context, userID string, packageID string) (*model.CreditGrant, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("User ID cannot be empty")
	}
	if packageID == "" {
		return nil, apperrors.InvalidInput("Package ID cannot be empty")
	}

	pkg, err := s.repo.FindPackageByID(ctx, packageID)
	if err != nil {
		if errors.Is(err, packageserrors.ErrPackageNotFound) {
			return nil, apperrors.NotFoundWithID("Credit package", packageID)
		}
		if errors.Is(err, packageserrors.ErrInvalidID) {
			return nil, apperrors.InvalidInput("Invalid package ID format")
		}
		s.cfg.Log.Error("Failed to load credit package",
			"package_id", packageID,
			"error", err,
		)
		return nil, apperrors.Internal("Failed to load credit package", err)
	}

	if !pkg.IsActive {
		return nil, apperrors.InvalidInput("Credit package is no longer available for purchase")
	}

	transactionID, err := s.chargePayment(ctx, userID, pkg)
	if err != nil {
		s.cfg.Log.Error("Payment failed for package purchase",
			"user_id", userID,
			"package_id", packageID,
			"error", err,
		)
		return nil, apperrors.Unavailable("Payment provider")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	grant := &model.CreditGrant{
		UserID:           userID,
		PackageID:        pkg.ID,
		RemainingCredits: pkg.Credits,
		PurchasedAt:      now,
		ExpiresAt:        now.AddDate(0, 0, pkg.ValidityDays),
		TransactionID:    transactionID,
	}

	if err := s.repo.CreateGrant(ctx, grant); err != nil {
		s.cfg.Log.Error("Failed to create credit grant after payment",
			"user_id", userID,
			"package_id", packageID,
			"transaction_id", transactionID,
			"error", err,
		)
		return nil, apperrors.Internal("Failed to issue credit grant", err)
	}

	s.cfg.Log.Info("Credit grant issued",
		"grant_id", grant.ID,
		"user_id", userID,
		"package_id", pkg.ID,
		"credits", grant.RemainingCredits,
		"expires_at", grant.ExpiresAt,
	)
	return grant, nil
}

func (s *packageService) ListGrants(ctx context.Context, userID string) ([]*model.CreditGrant, int, error) {
	if userID == "" {
		return nil, 0, apperrors.InvalidInput("User ID cannot be empty")
	}

	grants, err := s.repo.ListGrantsByUser(ctx, userID)
	if err != nil {
		s.cfg.Log.Error("Failed to list credit grants",
			"user_id", userID,
			"error", err,
		)
		return nil, 0, apperrors.Internal("Failed to retrieve credit grants", err)
	}

	now := time.Now().UTC()
	balance := 0
	for _, grant := range grants {
		if grant.Usable(now, 1) {
			balance += grant.RemainingCredits
		}
	}

	return grants, balance, nil
}

// chargePayment stands in for the payment provider integration. It always
// succeeds and returns a synthetic transaction reference.
// TODO: replace with the real provider client once the billing account exists.
func (s *packageService) chargePayment(_ context.Context, userID string, pkg *model.Package) (string, error) {
	transactionID := fmt.Sprintf("txn_%s", uuid.NewString())
	s.cfg.Log.Debug("Payment charged",
		"user_id", userID,
		"package_id", pkg.ID,
		"amount_cents", pkg.PriceCents,
		"transaction_id", transactionID,
	)
	return transactionID, nil
}
