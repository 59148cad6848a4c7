package gaslessbridge

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
)

// ConfigOverrideKey is the db.ConfigRecord row update_config writes to and
// cmd/main.go replays onto the YAML-loaded BridgeConfig at boot.
const ConfigOverrideKey = "bridge_tunables"

// QuoteEngine is the subset of internal/quote.Engine the root Engine needs.
type QuoteEngine interface {
	RequestQuote(ctx context.Context, user string, amountOut *big.Int, destAddr string, destChainID int64, sourceAsset string, sourceChainID int64) (*Quote, error)
	Get(id string) (*Quote, error)
	ByUser(userAddress string) ([]*Quote, error)
	SweepExpired() error
	UpdateConfig(cfg BridgeConfig)
}

// SettlementEngine is the subset of internal/settlement.Engine the root
// Engine needs.
type SettlementEngine interface {
	SettleQuote(ctx context.Context, quoteID, paymentProof string) (*Settlement, error)
	Get(id string) (*Settlement, error)
	ByUser(userAddress string) ([]*Settlement, error)
}

// ReserveManager is the subset of internal/reserve.Manager the root Engine
// needs for status reporting and admin operations.
type ReserveManager interface {
	Topup(chainID int64, asset string, amount *big.Int)
	SetDailyLimit(chainID int64, asset string, limit *big.Int)
	SetThresholds(chainID int64, asset string, warning, critical *big.Int)
	Pause(chainID int64, asset string)
	Unpause(chainID int64, asset string)
}

// AdminStore checks and grants admin membership and persists runtime
// config overrides, satisfied by internal/db.Store.
type AdminStore interface {
	IsAdmin(userAddress string) (bool, error)
	AddAdmin(actor, userAddress string) error
	RecentAuditLog(limit int) ([]AuditEntry, error)
	SaveConfig(actor, key, value string) error
}

// TransactionStore reads the UserTransaction rows internal/settlement.Engine
// writes as a settlement moves through its lifecycle, satisfied by
// internal/db.Store.
type TransactionStore interface {
	GetUserTransaction(quoteID string) (*UserTransaction, error)
	UserTransactionsByUser(userAddress string) ([]*UserTransaction, error)
}

// Engine is the single owned value holding every component's handle,
// replacing the "store singletons" the original design keeps as globals:
// every handler receives this by reference instead of reaching for package
// state.
type Engine struct {
	Quotes       QuoteEngine
	Settlements  SettlementEngine
	Reserves     ReserveManager
	Admins       AdminStore
	Transactions TransactionStore

	configMu sync.RWMutex
	Config   BridgeConfig
}

// NewEngine assembles an Engine from its already-constructed components.
// Wiring the concrete implementations (internal/quote, internal/settlement,
// internal/reserve, internal/db) together happens in cmd/main.go.
func NewEngine(quotes QuoteEngine, settlements SettlementEngine, reserves ReserveManager, admins AdminStore, transactions TransactionStore, cfg BridgeConfig) *Engine {
	return &Engine{Quotes: quotes, Settlements: settlements, Reserves: reserves, Admins: admins, Transactions: transactions, Config: cfg}
}

// RequestQuote is the request_quote API operation.
func (e *Engine) RequestQuote(ctx context.Context, user string, amountOut *big.Int, destAddr string, destChainID int64, sourceAsset string, sourceChainID int64) (*Quote, error) {
	return e.Quotes.RequestQuote(ctx, user, amountOut, destAddr, destChainID, sourceAsset, sourceChainID)
}

// BridgeAssets is the bridge_assets combined flow: issues a quote and
// drives settlement inline using the caller's source-side payment proof.
func (e *Engine) BridgeAssets(ctx context.Context, user string, amountOut *big.Int, destAddr string, destChainID int64, sourceAsset string, sourceChainID int64, paymentProof string) (*Settlement, error) {
	q, err := e.RequestQuote(ctx, user, amountOut, destAddr, destChainID, sourceAsset, sourceChainID)
	if err != nil {
		return nil, err
	}
	return e.Settlements.SettleQuote(ctx, q.ID, paymentProof)
}

// SettleQuote is the settle_quote API operation.
func (e *Engine) SettleQuote(ctx context.Context, quoteID, paymentProof string) (*Settlement, error) {
	return e.Settlements.SettleQuote(ctx, quoteID, paymentProof)
}

// CreateIcpPayment implements create_icp_payment: drives a source-ledger
// transfer on the caller's behalf via the same settlement path as
// BridgeAssets, differing only in how the payment proof is obtained (an
// on-the-fly ledger transfer rather than one the caller already holds).
// The concrete ledger transfer call is the host platform's responsibility;
// this method assumes paymentProof was already produced by that transfer.
func (e *Engine) CreateIcpPayment(ctx context.Context, user string, amountOut *big.Int, destAddr string, destChainID int64, sourceAsset string, sourceChainID int64, paymentProof string) (*UserTransaction, error) {
	s, err := e.BridgeAssets(ctx, user, amountOut, destAddr, destChainID, sourceAsset, sourceChainID, paymentProof)
	if err != nil {
		return nil, err
	}
	return e.Transactions.GetUserTransaction(s.QuoteID)
}

// GetQuote is the get_quote API operation.
func (e *Engine) GetQuote(id string) (*Quote, error) { return e.Quotes.Get(id) }

// GetSettlement is the get_settlement API operation.
func (e *Engine) GetSettlement(id string) (*Settlement, error) { return e.Settlements.Get(id) }

// GetUserQuotes is the get_user_quotes API operation.
func (e *Engine) GetUserQuotes(user string) ([]*Quote, error) { return e.Quotes.ByUser(user) }

// GetUserSettlements is the get_user_settlements API operation.
func (e *Engine) GetUserSettlements(user string) ([]*Settlement, error) {
	return e.Settlements.ByUser(user)
}

// GetUserTransactions is the get_user_transactions API operation: returns
// every UserTransaction persisted for a user, independent of its current
// quote/settlement state.
func (e *Engine) GetUserTransactions(user string) ([]UserTransaction, error) {
	txs, err := e.Transactions.UserTransactionsByUser(user)
	if err != nil {
		return nil, err
	}
	out := make([]UserTransaction, 0, len(txs))
	for _, t := range txs {
		out = append(out, *t)
	}
	return out, nil
}

// RequireAdmin returns AdminNotAdminError unless user is a registered admin.
func (e *Engine) RequireAdmin(user string) error {
	ok, err := e.Admins.IsAdmin(user)
	if err != nil {
		return err
	}
	if !ok {
		return AdminNotAdminError(user)
	}
	return nil
}

// AdminAddReserveFunds is the admin_add_reserve_funds API operation.
func (e *Engine) AdminAddReserveFunds(actor string, chainID int64, asset string, amount *big.Int) error {
	if err := e.RequireAdmin(actor); err != nil {
		return err
	}
	e.Reserves.Topup(chainID, asset, amount)
	return nil
}

// AdminSetDailyLimit is the admin_set_daily_limit API operation.
func (e *Engine) AdminSetDailyLimit(actor string, chainID int64, asset string, limit *big.Int) error {
	if err := e.RequireAdmin(actor); err != nil {
		return err
	}
	e.Reserves.SetDailyLimit(chainID, asset, limit)
	return nil
}

// AdminSetReserveThresholds is the admin_set_reserve_thresholds API operation.
func (e *Engine) AdminSetReserveThresholds(actor string, chainID int64, asset string, warning, critical *big.Int) error {
	if err := e.RequireAdmin(actor); err != nil {
		return err
	}
	e.Reserves.SetThresholds(chainID, asset, warning, critical)
	return nil
}

// AdminEmergencyPause is the admin_emergency_pause API operation.
func (e *Engine) AdminEmergencyPause(actor string, chainID int64, asset string) error {
	if err := e.RequireAdmin(actor); err != nil {
		return err
	}
	e.Reserves.Pause(chainID, asset)
	return nil
}

// AdminEmergencyUnpause is the admin_emergency_unpause API operation.
func (e *Engine) AdminEmergencyUnpause(actor string, chainID int64, asset string) error {
	if err := e.RequireAdmin(actor); err != nil {
		return err
	}
	e.Reserves.Unpause(chainID, asset)
	return nil
}

// AddAdmin is the add_admin API operation.
func (e *Engine) AddAdmin(actor, newAdmin string) error {
	if err := e.RequireAdmin(actor); err != nil {
		return err
	}
	return e.Admins.AddAdmin(actor, newAdmin)
}

// GetConfig is the get_config API operation.
func (e *Engine) GetConfig() BridgeConfig {
	e.configMu.RLock()
	defer e.configMu.RUnlock()
	return e.Config
}

// ConfigUpdate carries the subset of BridgeConfig an operator may change at
// runtime via update_config. Chain/admin lists are managed through their
// own dedicated operations, not this one, so they are omitted here.
type ConfigUpdate struct {
	MinQuoteAmountUSD    *float64
	MaxQuoteAmountUSD    *float64
	QuoteValidityMins    *int
	MaxGasPriceGwei      *float64
	GasSafetyMarginPct   *float64
	MaxSettlementRetries *int
}

// UpdateConfig is the update_config API operation: an admin may adjust the
// bridge's runtime-tunable limits without a restart. It merges update into
// the current config, validates the result, and pushes the new config to
// the quote engine. The settlement engine and the gas estimators keep the
// retry ceiling and safety margin they were built with.
func (e *Engine) UpdateConfig(actor string, update ConfigUpdate) (BridgeConfig, error) {
	if err := e.RequireAdmin(actor); err != nil {
		return BridgeConfig{}, err
	}

	e.configMu.Lock()
	cfg := e.Config
	if update.MinQuoteAmountUSD != nil {
		cfg.MinQuoteAmountUSD = *update.MinQuoteAmountUSD
	}
	if update.MaxQuoteAmountUSD != nil {
		cfg.MaxQuoteAmountUSD = *update.MaxQuoteAmountUSD
	}
	if update.QuoteValidityMins != nil {
		cfg.QuoteValidityMins = *update.QuoteValidityMins
	}
	if update.MaxGasPriceGwei != nil {
		cfg.MaxGasPriceGwei = *update.MaxGasPriceGwei
	}
	if update.GasSafetyMarginPct != nil {
		cfg.GasSafetyMarginPct = *update.GasSafetyMarginPct
	}
	if update.MaxSettlementRetries != nil {
		cfg.MaxSettlementRetries = *update.MaxSettlementRetries
	}

	if cfg.MinQuoteAmountUSD <= 0 || cfg.MaxQuoteAmountUSD <= cfg.MinQuoteAmountUSD {
		e.configMu.Unlock()
		return BridgeConfig{}, ConfigError("invalid quote amount bounds: min=%.2f max=%.2f", cfg.MinQuoteAmountUSD, cfg.MaxQuoteAmountUSD)
	}
	if cfg.QuoteValidityMins <= 0 {
		e.configMu.Unlock()
		return BridgeConfig{}, ConfigError("quoteValidityMinutes must be positive")
	}
	if cfg.MaxSettlementRetries < 0 {
		e.configMu.Unlock()
		return BridgeConfig{}, ConfigError("maxSettlementRetries must be non-negative")
	}
	e.Config = cfg
	e.configMu.Unlock()

	e.Quotes.UpdateConfig(cfg)

	raw, err := json.Marshal(configTunables{
		MinQuoteAmountUSD:    cfg.MinQuoteAmountUSD,
		MaxQuoteAmountUSD:    cfg.MaxQuoteAmountUSD,
		QuoteValidityMins:    cfg.QuoteValidityMins,
		MaxGasPriceGwei:      cfg.MaxGasPriceGwei,
		GasSafetyMarginPct:   cfg.GasSafetyMarginPct,
		MaxSettlementRetries: cfg.MaxSettlementRetries,
	})
	if err != nil {
		return cfg, err
	}
	if err := e.Admins.SaveConfig(actor, ConfigOverrideKey, string(raw)); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// configTunables is the JSON shape persisted by update_config and replayed
// onto the YAML-loaded BridgeConfig at boot via ApplyConfigOverride.
type configTunables struct {
	MinQuoteAmountUSD    float64
	MaxQuoteAmountUSD    float64
	QuoteValidityMins    int
	MaxGasPriceGwei      float64
	GasSafetyMarginPct   float64
	MaxSettlementRetries int
}

// ApplyConfigOverride merges a persisted configTunables JSON blob (as
// written by update_config and read back via AdminStore's backing store)
// onto a freshly YAML-loaded BridgeConfig, so an operator's runtime
// tuning survives a restart. An empty raw string is a no-op.
func ApplyConfigOverride(cfg BridgeConfig, raw string) (BridgeConfig, error) {
	if raw == "" {
		return cfg, nil
	}
	var t configTunables
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return cfg, err
	}
	cfg.MinQuoteAmountUSD = t.MinQuoteAmountUSD
	cfg.MaxQuoteAmountUSD = t.MaxQuoteAmountUSD
	cfg.QuoteValidityMins = t.QuoteValidityMins
	cfg.MaxGasPriceGwei = t.MaxGasPriceGwei
	cfg.GasSafetyMarginPct = t.GasSafetyMarginPct
	cfg.MaxSettlementRetries = t.MaxSettlementRetries
	return cfg, nil
}
