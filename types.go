// Package gaslessbridge implements a gasless cross-chain settlement bridge:
// users pay a quoted amount on a source chain (or via an ICP-style payment
// proof) and the bridge sponsors gas to settle the equivalent value on a
// destination chain, funded from a pre-provisioned reserve.
package gaslessbridge

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// NewID returns a time-ordered, monotonically-sortable identifier. UUIDv7
// embeds a millisecond timestamp in its high bits so IDs generated in the
// same process sort the same as their creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the OS entropy source is broken; fall back
		// to a random v4 rather than panic on a hot path.
		return uuid.New().String()
	}
	return id.String()
}

// QuoteStatus is the lifecycle state of a Quote.
type QuoteStatus string

const (
	QuoteStatusActive   QuoteStatus = "active"
	QuoteStatusExpired  QuoteStatus = "expired"
	QuoteStatusConsumed QuoteStatus = "consumed"
)

// Quote is a firm, time-bounded price commitment: pay SourceAmount of
// SourceAsset and receive DestAmount of DestAsset on DestChainID, with the
// bridge sponsoring destination gas.
type Quote struct {
	ID              string      `json:"id"`
	UserAddress     string      `json:"userAddress"`
	SourceChainID   int64       `json:"sourceChainId"`
	DestChainID     int64       `json:"destChainId"`
	SourceAsset     string      `json:"sourceAsset"`
	DestAsset       string      `json:"destAsset"`
	SourceAmount    *big.Int    `json:"sourceAmount"`
	DestAmount      *big.Int    `json:"destAmount"`
	ExchangeRate    float64     `json:"exchangeRate"`
	EstimatedGasFee *big.Int    `json:"estimatedGasFee"`
	Status          QuoteStatus `json:"status"`
	CreatedAt       time.Time   `json:"createdAt"`
	ExpiresAt       time.Time   `json:"expiresAt"`
}

// IsExpired reports whether the quote is no longer valid at instant now.
func (q *Quote) IsExpired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// SettlementStatus is the lifecycle state of a Settlement: Pending ->
// Executing -> {Completed, Failed}. Retries, up to MaxSettlementRetries,
// happen while the settlement stays Executing; Failed is terminal.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementExecuting SettlementStatus = "executing"
	SettlementCompleted SettlementStatus = "completed"
	SettlementFailed    SettlementStatus = "failed"
)

// Settlement tracks the execution of a Quote's destination-chain payout.
type Settlement struct {
	ID              string           `json:"id"`
	QuoteID         string           `json:"quoteId"`
	PaymentProof    string           `json:"paymentProof"`
	Status          SettlementStatus `json:"status"`
	DestTxHash      string           `json:"destTxHash"`
	GasUsed         *big.Int         `json:"gasUsed"`
	GasSponsoredWei *big.Int         `json:"gasSponsoredWei"`
	RetryCount      int              `json:"retryCount"`
	LastError       string           `json:"lastError"`
	Nonce           uint64           `json:"nonce"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
}

// Terminal reports whether the settlement has reached a state from which it
// will never transition again on its own.
func (s *Settlement) Terminal() bool {
	return s.Status == SettlementCompleted || s.Status == SettlementFailed
}

// UserTransactionStatus is the lifecycle state of a UserTransaction. It
// tracks the settlement it rolls up but additionally distinguishes
// Processing (settlement Executing) from Pending, and Refunded (settlement
// Failed, reservation released back to the user's unspent quote) from a
// bare Failed, since a failed settlement never spends the user's funds.
type UserTransactionStatus string

const (
	UserTransactionPending    UserTransactionStatus = "pending"
	UserTransactionProcessing UserTransactionStatus = "processing"
	UserTransactionCompleted  UserTransactionStatus = "completed"
	UserTransactionFailed     UserTransactionStatus = "failed"
	UserTransactionRefunded   UserTransactionStatus = "refunded"
)

// UserTransaction is the user-facing rollup of a quote/settlement pair,
// returned by the history endpoints and persisted independently of the
// Quote/Settlement rows it derives from so its own status history survives
// Settlement retries and quote sweeping.
type UserTransaction struct {
	QuoteID         string                `json:"quoteId"`
	SettlementID    string                `json:"settlementId,omitempty"`
	PaymentProof    string                `json:"paymentProof"`
	UserAddress     string                `json:"userAddress"`
	SourceChainID   int64                 `json:"sourceChainId"`
	DestChainID     int64                 `json:"destChainId"`
	SourceAmount    *big.Int              `json:"sourceAmount"`
	DestAmount      *big.Int              `json:"destAmount"`
	GasSponsoredWei *big.Int              `json:"gasSponsoredWei"`
	Status          UserTransactionStatus `json:"status"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

// ReserveHealth is a derived classification of a chain reserve's remaining
// headroom, recomputed on every read rather than stored.
type ReserveHealth string

const (
	ReserveHealthy   ReserveHealth = "healthy"
	ReserveWarning   ReserveHealth = "warning"
	ReserveCritical  ReserveHealth = "critical"
	ReserveEmergency ReserveHealth = "emergency"
)

// Reserve is the bridge's sponsorship balance for a single destination
// chain/asset pair, plus its UTC-midnight-rolling daily spend counter.
type Reserve struct {
	ChainID            int64     `json:"chainId"`
	Asset              string    `json:"asset"`
	Balance            *big.Int  `json:"balance"`
	DailyLimit         *big.Int  `json:"dailyLimit"`
	DailySpent         *big.Int  `json:"dailySpent"`
	DailyResetAt       time.Time `json:"dailyResetAt"`
	WarningThreshold   *big.Int  `json:"warningThreshold"`  // minimum available (balance-locked) headroom before Warning
	CriticalThreshold  *big.Int  `json:"criticalThreshold"` // minimum available headroom before Critical/rejection
	Paused             bool      `json:"paused"`
}

// PriceSample is one quoted price from one upstream source.
type PriceSample struct {
	Asset      string    `json:"asset"`
	PriceUSD   float64   `json:"priceUsd"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	FetchedAt  time.Time `json:"fetchedAt"`
}

// RpcEndpointHealth is the liveness state the RPC client tracks per endpoint.
type RpcEndpointHealth string

const (
	RpcEndpointUp       RpcEndpointHealth = "up"
	RpcEndpointCooldown RpcEndpointHealth = "cooldown"
	RpcEndpointDown     RpcEndpointHealth = "down"
)

// RpcEndpoint is one configured JSON-RPC provider for a given chain.
type RpcEndpoint struct {
	ChainID       int64
	URL           string
	Priority      int
	Health        RpcEndpointHealth
	FailureCount  int
	CooldownUntil time.Time
}

// AuditEntry is one immutable, append-only record of a state-changing
// operation, independent of the domain tables it references.
type AuditEntry struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
}

// BridgeConfig holds the tunable parameters of the settlement engine, loaded
// from YAML and overridable by the admin API at runtime.
type BridgeConfig struct {
	MinQuoteAmountUSD    float64       `yaml:"minQuoteAmountUsd"`
	MaxQuoteAmountUSD    float64       `yaml:"maxQuoteAmountUsd"`
	QuoteValidityMins    int           `yaml:"quoteValidityMinutes"`
	MaxGasPriceGwei      float64       `yaml:"maxGasPriceGwei"`
	GasSafetyMarginPct   float64       `yaml:"gasSafetyMarginPercent"`
	MaxSettlementRetries int           `yaml:"maxSettlementRetries"`
	SupportedChains      []ChainConfig `yaml:"supportedChains"`
	Admins               []string      `yaml:"admins"`
}

// ChainConfig describes one chain the bridge can source from or settle to.
type ChainConfig struct {
	ChainID     int64    `yaml:"chainId"`
	Name        string   `yaml:"name"`
	RpcURLs     []string `yaml:"rpcUrls"`
	NativeAsset string   `yaml:"nativeAsset"`
}
