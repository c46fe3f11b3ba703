package models

import "time"

// AssetType is a registered virtual currency (GOLD_COINS, DIAMONDS, ...).
type AssetType struct {
	Code        string    `json:"code" db:"code"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultAssetTypes are provisioned at startup when seeding is enabled.
func DefaultAssetTypes() []AssetType {
	return []AssetType{
		{
			Code:        "GOLD_COINS",
			Name:        "Gold Coins",
			Description: "Primary in-game currency for purchasing items and upgrades",
			IsActive:    true,
		},
		{
			Code:        "DIAMONDS",
			Name:        "Diamonds",
			Description: "Premium currency obtained through purchases or rare achievements",
			IsActive:    true,
		},
		{
			Code:        "LOYALTY_POINTS",
			Name:        "Loyalty Points",
			Description: "Rewards points earned through daily logins and activities",
			IsActive:    true,
		},
	}
}
