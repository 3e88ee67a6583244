package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/sellersync_backend/config"
	"github.com/google/uuid"
)

const (
	MarketplaceTrendyol = "trendyol"
)

const (
	StoreStatusConnected    = "connected"
	StoreStatusDisconnected = "disconnected"
	StoreStatusError        = "error"
)

// Store is one seller account on the marketplace. API credentials are kept
// encrypted at rest; use utils.OpenCredential to recover the plaintext.
type Store struct {
	ID              uuid.UUID  `gorm:"primary_key" json:"id"`
	Marketplace     string     `gorm:"index;size:50;not null" json:"marketplace"`
	SellerId        string     `gorm:"index;size:100;not null" json:"seller_id"`
	Name            string     `gorm:"size:255" json:"name"`
	Status          string     `gorm:"size:20;not null" json:"status"`
	ApiKeyEnc       []byte     `gorm:"type:blob" json:"-"`
	ApiSecretEnc    []byte     `gorm:"type:blob" json:"-"`
	LastSyncAt      *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time `json:"last_success_sync_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetStoreById(ctx context.Context, id uuid.UUID) (*Store, error) {
	db := config.GetDB()
	var store Store
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&store).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

func GetConnectedStores(ctx context.Context) ([]*Store, error) {
	db := config.GetDB()
	var stores []*Store
	if err := db.WithContext(ctx).
		Where("status = ?", StoreStatusConnected).
		Order("created_at asc").
		Find(&stores).Error; err != nil {
		return nil, err
	}
	return stores, nil
}
