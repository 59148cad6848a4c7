package gaslessbridge

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeQuoteEngine struct {
	quotes map[string]*Quote
}

func newFakeQuoteEngine() *fakeQuoteEngine {
	return &fakeQuoteEngine{quotes: map[string]*Quote{}}
}

func (f *fakeQuoteEngine) RequestQuote(ctx context.Context, user string, amountOut *big.Int, destAddr string, destChainID int64, sourceAsset string, sourceChainID int64) (*Quote, error) {
	q := &Quote{
		ID: NewID(), UserAddress: user, DestChainID: destChainID, DestAmount: amountOut,
		SourceAsset: sourceAsset, SourceChainID: sourceChainID, Status: QuoteStatusActive,
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(15 * time.Minute),
	}
	f.quotes[q.ID] = q
	return q, nil
}

func (f *fakeQuoteEngine) Get(id string) (*Quote, error) {
	q, ok := f.quotes[id]
	if !ok {
		return nil, QuoteNotFoundError(id)
	}
	return q, nil
}

func (f *fakeQuoteEngine) ByUser(userAddress string) ([]*Quote, error) {
	var out []*Quote
	for _, q := range f.quotes {
		if q.UserAddress == userAddress {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeQuoteEngine) SweepExpired() error { return nil }

func (f *fakeQuoteEngine) UpdateConfig(cfg BridgeConfig) {}

type fakeSettlementEngine struct {
	byQuote map[string]*Settlement
	quotes  *fakeQuoteEngine
	txs     *fakeTransactionStore
}

func newFakeSettlementEngine(quotes *fakeQuoteEngine, txs *fakeTransactionStore) *fakeSettlementEngine {
	return &fakeSettlementEngine{byQuote: map[string]*Settlement{}, quotes: quotes, txs: txs}
}

func (f *fakeSettlementEngine) SettleQuote(ctx context.Context, quoteID, paymentProof string) (*Settlement, error) {
	if existing, ok := f.byQuote[quoteID]; ok {
		return existing, nil
	}
	s := &Settlement{
		ID: NewID(), QuoteID: quoteID, PaymentProof: paymentProof, Status: SettlementCompleted,
		DestTxHash: "0xabc", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	f.byQuote[quoteID] = s
	if q, ok := f.quotes.quotes[quoteID]; ok {
		f.txs.byQuote[quoteID] = &UserTransaction{
			QuoteID: q.ID, SettlementID: s.ID, PaymentProof: paymentProof, UserAddress: q.UserAddress,
			SourceChainID: q.SourceChainID, DestChainID: q.DestChainID, SourceAmount: q.SourceAmount,
			DestAmount: q.DestAmount, Status: UserTransactionCompleted, CreatedAt: q.CreatedAt,
		}
	}
	return s, nil
}

func (f *fakeSettlementEngine) Get(id string) (*Settlement, error) {
	for _, s := range f.byQuote {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, PaymentNotFoundError("settlement %s not found", id)
}

func (f *fakeSettlementEngine) ByUser(userAddress string) ([]*Settlement, error) {
	var out []*Settlement
	for _, s := range f.byQuote {
		out = append(out, s)
	}
	return out, nil
}

type fakeReserveManager struct {
	paused map[string]bool
}

func newFakeReserveManager() *fakeReserveManager { return &fakeReserveManager{paused: map[string]bool{}} }

func (f *fakeReserveManager) Topup(chainID int64, asset string, amount *big.Int)         {}
func (f *fakeReserveManager) SetDailyLimit(chainID int64, asset string, limit *big.Int)  {}
func (f *fakeReserveManager) SetThresholds(chainID int64, asset string, w, c *big.Int)    {}
func (f *fakeReserveManager) Pause(chainID int64, asset string) {
	f.paused[key(chainID, asset)] = true
}
func (f *fakeReserveManager) Unpause(chainID int64, asset string) {
	f.paused[key(chainID, asset)] = false
}

func key(chainID int64, asset string) string {
	return asset + ":" + big.NewInt(chainID).String()
}

type fakeTransactionStore struct {
	byQuote map[string]*UserTransaction
}

func newFakeTransactionStore() *fakeTransactionStore {
	return &fakeTransactionStore{byQuote: map[string]*UserTransaction{}}
}

func (f *fakeTransactionStore) GetUserTransaction(quoteID string) (*UserTransaction, error) {
	t, ok := f.byQuote[quoteID]
	if !ok {
		return nil, QuoteNotFoundError(quoteID)
	}
	return t, nil
}

func (f *fakeTransactionStore) UserTransactionsByUser(userAddress string) ([]*UserTransaction, error) {
	var out []*UserTransaction
	for _, t := range f.byQuote {
		if t.UserAddress == userAddress {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeAdminStore struct {
	admins map[string]bool
}

func newFakeAdminStore(admins ...string) *fakeAdminStore {
	m := map[string]bool{}
	for _, a := range admins {
		m[a] = true
	}
	return &fakeAdminStore{admins: m}
}

func (f *fakeAdminStore) IsAdmin(userAddress string) (bool, error) { return f.admins[userAddress], nil }
func (f *fakeAdminStore) AddAdmin(actor, userAddress string) error {
	f.admins[userAddress] = true
	return nil
}
func (f *fakeAdminStore) RecentAuditLog(limit int) ([]AuditEntry, error) { return nil, nil }
func (f *fakeAdminStore) SaveConfig(actor, key, value string) error      { return nil }

func testEngine() (*Engine, *fakeQuoteEngine, *fakeSettlementEngine, *fakeReserveManager, *fakeAdminStore) {
	q := newFakeQuoteEngine()
	txs := newFakeTransactionStore()
	s := newFakeSettlementEngine(q, txs)
	r := newFakeReserveManager()
	a := newFakeAdminStore("0xadmin")
	e := NewEngine(q, s, r, a, txs, BridgeConfig{MinQuoteAmountUSD: 1, MaxQuoteAmountUSD: 1000})
	return e, q, s, r, a
}

func TestBridgeAssetsIssuesQuoteThenSettlesInline(t *testing.T) {
	e, _, _, _, _ := testEngine()
	s, err := e.BridgeAssets(context.Background(), "0xuser", big.NewInt(100), "0xdest", 84532, "ETH", 11155111, "proof-1")
	require.NoError(t, err)
	require.Equal(t, SettlementCompleted, s.Status)
}

func TestCreateIcpPaymentReturnsUserTransactionView(t *testing.T) {
	e, _, _, _, _ := testEngine()
	tx, err := e.CreateIcpPayment(context.Background(), "0xuser", big.NewInt(100), "0xdest", 84532, "ETH", 11155111, "proof-2")
	require.NoError(t, err)
	require.Equal(t, "0xuser", tx.UserAddress)
	require.Equal(t, UserTransactionCompleted, tx.Status)
	require.NotEmpty(t, tx.SettlementID)
}

func TestGetUserTransactionsReturnsPersistedTransactions(t *testing.T) {
	e, _, _, _, _ := testEngine()
	_, err := e.BridgeAssets(context.Background(), "0xuser", big.NewInt(50), "0xdest", 84532, "ETH", 11155111, "proof-3")
	require.NoError(t, err)

	txs, err := e.GetUserTransactions("0xuser")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, UserTransactionCompleted, txs[0].Status)
}

func TestAdminGuardRejectsNonAdmin(t *testing.T) {
	e, _, _, r, _ := testEngine()
	err := e.AdminEmergencyPause("0xnotadmin", 84532, "ETH")
	require.Error(t, err)
	require.False(t, r.paused[key(84532, "ETH")])
}

func TestAdminGuardAllowsRegisteredAdmin(t *testing.T) {
	e, _, _, r, _ := testEngine()
	err := e.AdminEmergencyPause("0xadmin", 84532, "ETH")
	require.NoError(t, err)
	require.True(t, r.paused[key(84532, "ETH")])
}

func TestUpdateConfigRejectsInvalidBounds(t *testing.T) {
	e, _, _, _, _ := testEngine()
	newMax := 0.5
	_, err := e.UpdateConfig("0xadmin", ConfigUpdate{MaxQuoteAmountUSD: &newMax})
	require.Error(t, err)
}

func TestUpdateConfigAppliesChange(t *testing.T) {
	e, _, _, _, _ := testEngine()
	newMax := 5000.0
	cfg, err := e.UpdateConfig("0xadmin", ConfigUpdate{MaxQuoteAmountUSD: &newMax})
	require.NoError(t, err)
	require.Equal(t, newMax, cfg.MaxQuoteAmountUSD)
	require.Equal(t, newMax, e.GetConfig().MaxQuoteAmountUSD)
}

func TestApplyConfigOverrideMergesPersistedTunables(t *testing.T) {
	base := BridgeConfig{MinQuoteAmountUSD: 1, MaxQuoteAmountUSD: 1000, QuoteValidityMins: 15}
	merged, err := ApplyConfigOverride(base, `{"MinQuoteAmountUSD":1,"MaxQuoteAmountUSD":5000,"QuoteValidityMins":15,"MaxGasPriceGwei":0,"GasSafetyMarginPct":0,"MaxSettlementRetries":0}`)
	require.NoError(t, err)
	require.Equal(t, 5000.0, merged.MaxQuoteAmountUSD)
}

func TestApplyConfigOverrideNoopOnEmptyString(t *testing.T) {
	base := BridgeConfig{MinQuoteAmountUSD: 1, MaxQuoteAmountUSD: 1000}
	merged, err := ApplyConfigOverride(base, "")
	require.NoError(t, err)
	require.Equal(t, base, merged)
}

func TestAddAdminRequiresExistingAdmin(t *testing.T) {
	e, _, _, _, a := testEngine()
	err := e.AddAdmin("0xadmin", "0xnew")
	require.NoError(t, err)
	require.True(t, a.admins["0xnew"])

	err = e.AddAdmin("0xnew-but-not-admin-yet-in-this-call", "0xother")
	require.Error(t, err)
}
