package db

import (
	"fmt"
	"time"

	"github.com/ChoSanghyuk/gaslessbridge"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store wraps a *gorm.DB, providing typed CRUD methods over the bridge's
// stable-map tables. Every mutating method writes its AuditEntry row in
// the same transaction as the mutation, following spec.md §4.10's
// "every mutating store method emits exactly one audit entry" rule.
type Store struct {
	db *gorm.DB
}

// Open connects to MySQL via dsn and runs Migrate, following the teacher's
// NewMySQLRecorder idiom (gorm.Open + AutoMigrate in one constructor).
func Open(dsn string) (*Store, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	return &Store{db: gdb}, nil
}

// NewWithDB wraps an already-open gorm DB (used by tests with sqlmock).
func NewWithDB(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

func (s *Store) GetDB() *gorm.DB { return s.db }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}

func (s *Store) audit(tx *gorm.DB, actor, action, subject, detail string) error {
	return tx.Create(&AuditLogRecord{
		ID:      gaslessbridge.NewID(),
		Actor:   actor,
		Action:  action,
		Subject: subject,
		Detail:  detail,
	}).Error
}

// SaveQuote inserts or updates a Quote row and its audit entry.
func (s *Store) SaveQuote(actor string, q *gaslessbridge.Quote) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		rec := QuoteRecord{
			ID:              q.ID,
			UserAddress:     q.UserAddress,
			SourceChainID:   q.SourceChainID,
			DestChainID:     q.DestChainID,
			SourceAsset:     q.SourceAsset,
			DestAsset:       q.DestAsset,
			SourceAmount:    bigIntToString(q.SourceAmount),
			DestAmount:      bigIntToString(q.DestAmount),
			ExchangeRate:    q.ExchangeRate,
			EstimatedGasFee: bigIntToString(q.EstimatedGasFee),
			Status:          string(q.Status),
			CreatedAt:       q.CreatedAt,
			ExpiresAt:       q.ExpiresAt,
		}
		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		return s.audit(tx, actor, "save_quote", q.ID, fmt.Sprintf("status=%s", q.Status))
	})
}

// GetQuote loads a Quote by id.
func (s *Store) GetQuote(id string) (*gaslessbridge.Quote, error) {
	var rec QuoteRecord
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, gaslessbridge.QuoteNotFoundError(id)
		}
		return nil, err
	}
	return recordToQuote(rec), nil
}

// QuotesByUser returns every quote a user has requested, newest first.
func (s *Store) QuotesByUser(userAddress string) ([]*gaslessbridge.Quote, error) {
	var recs []QuoteRecord
	if err := s.db.Where("user_address = ?", userAddress).Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*gaslessbridge.Quote, len(recs))
	for i, r := range recs {
		out[i] = recordToQuote(r)
	}
	return out, nil
}

// ActiveQuotesPastExpiry returns every still-Active quote whose ExpiresAt
// has passed, for the sweep-expired routine.
func (s *Store) ActiveQuotesPastExpiry(now time.Time) ([]*gaslessbridge.Quote, error) {
	var recs []QuoteRecord
	if err := s.db.Where("status = ? AND expires_at < ?", string(gaslessbridge.QuoteStatusActive), now).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*gaslessbridge.Quote, len(recs))
	for i, r := range recs {
		out[i] = recordToQuote(r)
	}
	return out, nil
}

func recordToQuote(r QuoteRecord) *gaslessbridge.Quote {
	return &gaslessbridge.Quote{
		ID:              r.ID,
		UserAddress:     r.UserAddress,
		SourceChainID:   r.SourceChainID,
		DestChainID:     r.DestChainID,
		SourceAsset:     r.SourceAsset,
		DestAsset:       r.DestAsset,
		SourceAmount:    stringToBigInt(r.SourceAmount),
		DestAmount:      stringToBigInt(r.DestAmount),
		ExchangeRate:    r.ExchangeRate,
		EstimatedGasFee: stringToBigInt(r.EstimatedGasFee),
		Status:          gaslessbridge.QuoteStatus(r.Status),
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

// SaveSettlement inserts or updates a Settlement row and its audit entry.
func (s *Store) SaveSettlement(actor string, st *gaslessbridge.Settlement) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		rec := SettlementRecord{
			ID:              st.ID,
			QuoteID:         st.QuoteID,
			PaymentProof:    st.PaymentProof,
			Status:          string(st.Status),
			DestTxHash:      st.DestTxHash,
			GasUsed:         bigIntToString(st.GasUsed),
			GasSponsoredWei: bigIntToString(st.GasSponsoredWei),
			RetryCount:      st.RetryCount,
			LastError:       st.LastError,
			Nonce:           st.Nonce,
			CreatedAt:       st.CreatedAt,
			UpdatedAt:       st.UpdatedAt,
			CompletedAt:     st.CompletedAt,
		}
		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		return s.audit(tx, actor, "save_settlement", st.ID, fmt.Sprintf("status=%s retry=%d", st.Status, st.RetryCount))
	})
}

// GetSettlement loads a Settlement by id.
func (s *Store) GetSettlement(id string) (*gaslessbridge.Settlement, error) {
	var rec SettlementRecord
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, gaslessbridge.PaymentNotFoundError("settlement %s not found", id)
		}
		return nil, err
	}
	return recordToSettlement(rec), nil
}

// SettlementByPaymentProof implements the idempotency lookup backing
// Testable Property 3: a repeated payment proof must return the existing
// settlement rather than create a new one.
func (s *Store) SettlementByPaymentProof(proof string) (*gaslessbridge.Settlement, bool, error) {
	var rec SettlementRecord
	err := s.db.First(&rec, "payment_proof = ?", proof).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return recordToSettlement(rec), true, nil
}

// SettlementsByUser joins through quotes to return every settlement a user
// is party to, newest first.
func (s *Store) SettlementsByUser(userAddress string) ([]*gaslessbridge.Settlement, error) {
	var recs []SettlementRecord
	err := s.db.
		Joins("JOIN quotes ON quotes.id = settlements.quote_id").
		Where("quotes.user_address = ?", userAddress).
		Order("settlements.created_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*gaslessbridge.Settlement, len(recs))
	for i, r := range recs {
		out[i] = recordToSettlement(r)
	}
	return out, nil
}

func recordToSettlement(r SettlementRecord) *gaslessbridge.Settlement {
	return &gaslessbridge.Settlement{
		ID:              r.ID,
		QuoteID:         r.QuoteID,
		PaymentProof:    r.PaymentProof,
		Status:          gaslessbridge.SettlementStatus(r.Status),
		DestTxHash:      r.DestTxHash,
		GasUsed:         stringToBigInt(r.GasUsed),
		GasSponsoredWei: stringToBigInt(r.GasSponsoredWei),
		RetryCount:      r.RetryCount,
		LastError:       r.LastError,
		Nonce:           r.Nonce,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		CompletedAt:     r.CompletedAt,
	}
}

// SaveUserTransaction inserts or updates a UserTransaction row (keyed by
// its QuoteID) and its audit entry.
func (s *Store) SaveUserTransaction(actor string, t *gaslessbridge.UserTransaction) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		rec := UserTransactionRecord{
			QuoteID:         t.QuoteID,
			SettlementID:    t.SettlementID,
			PaymentProof:    t.PaymentProof,
			UserAddress:     t.UserAddress,
			SourceChainID:   t.SourceChainID,
			DestChainID:     t.DestChainID,
			SourceAmount:    bigIntToString(t.SourceAmount),
			DestAmount:      bigIntToString(t.DestAmount),
			GasSponsoredWei: bigIntToString(t.GasSponsoredWei),
			Status:          string(t.Status),
			CreatedAt:       t.CreatedAt,
		}
		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		return s.audit(tx, actor, "save_user_transaction", t.QuoteID, fmt.Sprintf("status=%s", t.Status))
	})
}

// GetUserTransaction loads a UserTransaction by its quote id.
func (s *Store) GetUserTransaction(quoteID string) (*gaslessbridge.UserTransaction, error) {
	var rec UserTransactionRecord
	if err := s.db.First(&rec, "quote_id = ?", quoteID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, gaslessbridge.QuoteNotFoundError(quoteID)
		}
		return nil, err
	}
	return recordToUserTransaction(rec), nil
}

// UserTransactionsByUser returns every persisted UserTransaction for a
// user, newest first.
func (s *Store) UserTransactionsByUser(userAddress string) ([]*gaslessbridge.UserTransaction, error) {
	var recs []UserTransactionRecord
	if err := s.db.Where("user_address = ?", userAddress).Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*gaslessbridge.UserTransaction, len(recs))
	for i, r := range recs {
		out[i] = recordToUserTransaction(r)
	}
	return out, nil
}

func recordToUserTransaction(r UserTransactionRecord) *gaslessbridge.UserTransaction {
	return &gaslessbridge.UserTransaction{
		QuoteID:         r.QuoteID,
		SettlementID:    r.SettlementID,
		PaymentProof:    r.PaymentProof,
		UserAddress:     r.UserAddress,
		SourceChainID:   r.SourceChainID,
		DestChainID:     r.DestChainID,
		SourceAmount:    stringToBigInt(r.SourceAmount),
		DestAmount:      stringToBigInt(r.DestAmount),
		GasSponsoredWei: stringToBigInt(r.GasSponsoredWei),
		Status:          gaslessbridge.UserTransactionStatus(r.Status),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// SaveReserve persists one chain/asset reserve row.
func (s *Store) SaveReserve(actor string, r *gaslessbridge.Reserve) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		rec := ReserveStateRecord{
			ChainID:           r.ChainID,
			Asset:             r.Asset,
			Balance:           bigIntToString(r.Balance),
			DailyLimit:        bigIntToString(r.DailyLimit),
			DailySpent:        bigIntToString(r.DailySpent),
			DailyResetAt:      r.DailyResetAt,
			WarningThreshold:  bigIntToString(r.WarningThreshold),
			CriticalThreshold: bigIntToString(r.CriticalThreshold),
			Paused:            r.Paused,
		}
		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		return s.audit(tx, actor, "save_reserve", fmt.Sprintf("%d/%s", r.ChainID, r.Asset), "")
	})
}

// IsAdmin reports whether userAddress is in the admins table.
func (s *Store) IsAdmin(userAddress string) (bool, error) {
	var count int64
	err := s.db.Model(&AdminRecord{}).Where("user_address = ?", userAddress).Count(&count).Error
	return count > 0, err
}

// AddAdmin grants admin status to userAddress.
func (s *Store) AddAdmin(actor, userAddress string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&AdminRecord{UserAddress: userAddress}).Error; err != nil {
			return err
		}
		return s.audit(tx, actor, "add_admin", userAddress, "")
	})
}

// SeedAdmins idempotently grants admin status to every address in admins,
// skipping whoever is already registered so a process restart doesn't
// re-emit an add_admin audit entry for the same bootstrap list every time.
// Called once at boot with BridgeConfig.Admins so the admin gate has at
// least one member to satisfy before any admin_* operation can run.
func (s *Store) SeedAdmins(admins []string) error {
	for _, addr := range admins {
		if addr == "" {
			continue
		}
		isAdmin, err := s.IsAdmin(addr)
		if err != nil {
			return err
		}
		if isAdmin {
			continue
		}
		if err := s.AddAdmin("bootstrap", addr); err != nil {
			return err
		}
	}
	return nil
}

// SaveConfig persists one runtime-overridable config key/value pair,
// written by update_config so the override survives a process restart.
func (s *Store) SaveConfig(actor, key, value string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		rec := ConfigRecord{Key: key, Value: value}
		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		return s.audit(tx, actor, "update_config", key, value)
	})
}

// LoadConfigOverrides returns every persisted config key/value pair, for
// replaying onto the YAML-loaded BridgeConfig at boot.
func (s *Store) LoadConfigOverrides() (map[string]string, error) {
	var recs []ConfigRecord
	if err := s.db.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(recs))
	for _, r := range recs {
		out[r.Key] = r.Value
	}
	return out, nil
}

// RecentAuditLog returns the most recent audit entries, newest first.
func (s *Store) RecentAuditLog(limit int) ([]gaslessbridge.AuditEntry, error) {
	var recs []AuditLogRecord
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]gaslessbridge.AuditEntry, len(recs))
	for i, r := range recs {
		out[i] = gaslessbridge.AuditEntry{
			ID:        r.ID,
			Actor:     r.Actor,
			Action:    r.Action,
			Subject:   r.Subject,
			Detail:    r.Detail,
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}
