package model

import "time"

// Package is the purchasable catalog entry a CreditGrant is issued from.
type Package struct {
	ID           string    `json:"id,omitempty" bson:"_id,omitempty" validate:"omitempty,mongodb"`
	Name         string    `json:"name" bson:"name" validate:"required,min=2,max=100"`
	Credits      int       `json:"credits" bson:"credits" validate:"required,min=1"`
	ValidityDays int       `json:"validity_days" bson:"validity_days" validate:"required,min=1"`
	PriceCents   int64     `json:"price_cents" bson:"price_cents" validate:"min=0"`
	IsActive     bool      `json:"is_active" bson:"is_active"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

// CreditGrant is a purchased, time-bounded block of credits owned by one user.
// RemainingCredits only moves through filter-guarded increments, never
// read-modify-write.
type CreditGrant struct {
	ID               string    `json:"id,omitempty" bson:"_id,omitempty"`
	UserID           string    `json:"user_id" bson:"user_id"`
	PackageID        string    `json:"package_id" bson:"package_id"`
	RemainingCredits int       `json:"remaining_credits" bson:"remaining_credits"`
	PurchasedAt      time.Time `json:"purchased_at" bson:"purchased_at"`
	ExpiresAt        time.Time `json:"expires_at" bson:"expires_at"`
	IsExpired        bool      `json:"is_expired" bson:"is_expired"`
	TransactionID    string    `json:"transaction_id,omitempty" bson:"transaction_id,omitempty"`
}

// Usable reports whether the grant can fund a deduction of cost at instant now.
func (g *CreditGrant) Usable(now time.Time, cost int) bool {
	return !g.IsExpired && g.ExpiresAt.After(now) && g.RemainingCredits >= cost
}
