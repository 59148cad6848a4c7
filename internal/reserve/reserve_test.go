package reserve

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockFailsWhenInsufficientBalance(t *testing.T) {
	m := New()
	m.Topup(1, "ETH", big.NewInt(100))

	err := m.Lock(1, "ETH", big.NewInt(200))
	require.Error(t, err)
}

func TestLockSucceedsWithinBalance(t *testing.T) {
	m := New()
	m.Topup(1, "ETH", big.NewInt(100))

	err := m.Lock(1, "ETH", big.NewInt(50))
	require.NoError(t, err)

	st := m.Status(1, "ETH")
	require.Equal(t, big.NewInt(50), st.Locked)
}

func TestLockFailsWhenPaused(t *testing.T) {
	m := New()
	m.Topup(1, "ETH", big.NewInt(100))
	m.Pause(1, "ETH")

	err := m.Lock(1, "ETH", big.NewInt(10))
	require.Error(t, err)
}

func TestUnlockReleasesHeadroom(t *testing.T) {
	m := New()
	m.Topup(1, "ETH", big.NewInt(100))
	require.NoError(t, m.Lock(1, "ETH", big.NewInt(100)))

	err := m.Lock(1, "ETH", big.NewInt(1))
	require.Error(t, err)

	m.Unlock(1, "ETH", big.NewInt(100))
	require.NoError(t, m.Lock(1, "ETH", big.NewInt(100)))
}

func TestCommitDecrementsBalanceAndLocked(t *testing.T) {
	m := New()
	m.Topup(1, "ETH", big.NewInt(100))
	require.NoError(t, m.Lock(1, "ETH", big.NewInt(40)))

	require.NoError(t, m.Commit(1, "ETH", big.NewInt(40)))

	st := m.Status(1, "ETH")
	require.Equal(t, big.NewInt(60), st.Reserve.Balance)
	require.Equal(t, big.NewInt(0), st.Locked)
	require.Equal(t, big.NewInt(40), st.Reserve.DailySpent)
}

func TestLockFailsWhenDailyLimitExceeded(t *testing.T) {
	m := New()
	m.Topup(1, "ETH", big.NewInt(1000))
	m.SetDailyLimit(1, "ETH", big.NewInt(100))

	require.NoError(t, m.Lock(1, "ETH", big.NewInt(90)))
	require.NoError(t, m.Commit(1, "ETH", big.NewInt(90)))

	err := m.Lock(1, "ETH", big.NewInt(20))
	require.Error(t, err)
}

func TestHealthDerivesFromAvailableHeadroom(t *testing.T) {
	m := New()
	m.Topup(1, "ETH", big.NewInt(1000))
	m.SetThresholds(1, "ETH", big.NewInt(500), big.NewInt(100))

	require.NoError(t, m.Lock(1, "ETH", big.NewInt(950)))

	st := m.Status(1, "ETH")
	require.Equal(t, "critical", string(st.Health))
}

func TestLockRejectsBelowCriticalThreshold(t *testing.T) {
	m := New()
	m.Topup(1, "ETH", big.NewInt(1000))
	m.SetThresholds(1, "ETH", big.NewInt(500), big.NewInt(100))
	require.NoError(t, m.Lock(1, "ETH", big.NewInt(950)))

	err := m.Lock(1, "ETH", big.NewInt(1))
	require.Error(t, err)
}

func TestPausedReserveReportsEmergencyHealth(t *testing.T) {
	m := New()
	m.Topup(1, "ETH", big.NewInt(1000))
	m.Pause(1, "ETH")

	st := m.Status(1, "ETH")
	require.Equal(t, "emergency", string(st.Health))
}
