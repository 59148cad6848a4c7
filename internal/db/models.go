// Package db generalizes the teacher's single-table gorm recorder pattern
// to the bridge's full stable-map list: quotes, settlements, user
// transactions, reserve state, the audit log, rpc cache metadata, admins
// and config, each stored as a big.Int-as-varchar(78) gorm model exactly
// like the teacher's AssetSnapshotRecord.
package db

import (
	"math/big"
	"time"
)

// QuoteRecord persists a gaslessbridge.Quote.
type QuoteRecord struct {
	ID              string    `gorm:"primaryKey;type:varchar(36)"`
	UserAddress     string    `gorm:"index;not null"`
	SourceChainID   int64     `gorm:"not null"`
	DestChainID     int64     `gorm:"not null"`
	SourceAsset     string    `gorm:"not null"`
	DestAsset       string    `gorm:"not null"`
	SourceAmount    string    `gorm:"type:varchar(78);not null"`
	DestAmount      string    `gorm:"type:varchar(78);not null"`
	ExchangeRate    float64   `gorm:"not null"`
	EstimatedGasFee string    `gorm:"type:varchar(78);not null"`
	Status          string    `gorm:"index;not null"`
	CreatedAt       time.Time `gorm:"index;autoCreateTime"`
	ExpiresAt       time.Time `gorm:"index;not null"`
}

func (QuoteRecord) TableName() string { return "quotes" }

// SettlementRecord persists a gaslessbridge.Settlement.
type SettlementRecord struct {
	ID              string     `gorm:"primaryKey;type:varchar(36)"`
	QuoteID         string     `gorm:"index;not null"`
	PaymentProof    string     `gorm:"uniqueIndex;not null"`
	Status          string     `gorm:"index;not null"`
	DestTxHash      string     `gorm:"index"`
	GasUsed         string     `gorm:"type:varchar(78)"`
	GasSponsoredWei string     `gorm:"type:varchar(78)"`
	RetryCount      int        `gorm:"not null;default:0"`
	LastError       string     `gorm:"type:text"`
	Nonce           uint64     `gorm:"not null;default:0"`
	CreatedAt       time.Time  `gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime"`
	CompletedAt     *time.Time
}

func (SettlementRecord) TableName() string { return "settlements" }

// UserTransactionRecord persists a gaslessbridge.UserTransaction, keyed by
// the quote it rolls up so a settlement retry or quote sweep never loses
// the transaction's own status history.
type UserTransactionRecord struct {
	QuoteID         string `gorm:"primaryKey;type:varchar(36)"`
	SettlementID    string `gorm:"index"`
	PaymentProof    string `gorm:"index"`
	UserAddress     string `gorm:"index;not null"`
	SourceChainID   int64  `gorm:"not null"`
	DestChainID     int64  `gorm:"not null"`
	SourceAmount    string `gorm:"type:varchar(78);not null"`
	DestAmount      string `gorm:"type:varchar(78);not null"`
	GasSponsoredWei string `gorm:"type:varchar(78)"`
	Status          string `gorm:"index;not null"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (UserTransactionRecord) TableName() string { return "user_transactions" }

// ReserveStateRecord persists one chain/asset reserve row.
type ReserveStateRecord struct {
	ChainID           int64  `gorm:"primaryKey"`
	Asset             string `gorm:"primaryKey"`
	Balance           string `gorm:"type:varchar(78);not null"`
	DailyLimit        string `gorm:"type:varchar(78);not null"`
	DailySpent        string `gorm:"type:varchar(78);not null"`
	DailyResetAt      time.Time
	WarningThreshold  string `gorm:"type:varchar(78);not null;default:'0'"`
	CriticalThreshold string `gorm:"type:varchar(78);not null;default:'0'"`
	Paused            bool
}

func (ReserveStateRecord) TableName() string { return "reserve_state" }

// AuditLogRecord is one immutable append-only row written alongside every
// mutating store operation.
type AuditLogRecord struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	Actor     string `gorm:"index;not null"`
	Action    string `gorm:"index;not null"`
	Subject   string `gorm:"index"`
	Detail    string `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index;autoCreateTime"`
}

func (AuditLogRecord) TableName() string { return "audit_log" }

// RpcCacheMetaRecord tracks cross-restart cache bookkeeping (e.g. highest
// block seen per chain) that must survive a process restart even though
// the hot cache entries themselves live in pkg/cache.
type RpcCacheMetaRecord struct {
	ChainID          int64 `gorm:"primaryKey"`
	HighestBlockSeen uint64
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (RpcCacheMetaRecord) TableName() string { return "rpc_cache_meta" }

// AdminRecord marks a user address as an administrator.
type AdminRecord struct {
	UserAddress string `gorm:"primaryKey"`
	AddedAt     time.Time `gorm:"autoCreateTime"`
}

func (AdminRecord) TableName() string { return "admins" }

// ConfigRecord is a single key/value row in the runtime-overridable config
// table (admin_update_config writes here).
type ConfigRecord struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (ConfigRecord) TableName() string { return "config" }

// SchemaVersionRecord is the singleton row Migrate checks on startup.
type SchemaVersionRecord struct {
	ID      int `gorm:"primaryKey"`
	Version int `gorm:"not null"`
}

func (SchemaVersionRecord) TableName() string { return "schema_version" }

const currentSchemaVersion = 1

func bigIntToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func stringToBigInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
