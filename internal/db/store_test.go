package db

import (
	"math/big"
	"testing"
	"time"

	"github.com/ChoSanghyuk/gaslessbridge"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return NewWithDB(gdb), mock
}

func TestSaveQuoteWritesRecordAndAuditEntryInOneTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	// Save with a set primary key tries UPDATE first and inserts when no row matched.
	mock.ExpectExec("UPDATE `quotes`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `quotes`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `audit_log`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	q := &gaslessbridge.Quote{
		ID:              "q1",
		UserAddress:     "0xabc",
		SourceChainID:   1,
		DestChainID:     2,
		SourceAsset:     "ETH",
		DestAsset:       "ETH",
		SourceAmount:    big.NewInt(1000),
		DestAmount:      big.NewInt(990),
		EstimatedGasFee: big.NewInt(10),
		Status:          gaslessbridge.QuoteStatusActive,
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Now().Add(time.Hour),
	}

	err := s.SaveQuote("0xabc", q)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBigIntToStringHandlesNil(t *testing.T) {
	require.Equal(t, "0", bigIntToString(nil))
	require.Equal(t, "123", bigIntToString(big.NewInt(123)))
}

func TestStringToBigIntRoundTrips(t *testing.T) {
	v := stringToBigInt("123456789012345678901234567890")
	require.Equal(t, "123456789012345678901234567890", v.String())
}

func TestSaveConfigWritesRecordAndAuditEntry(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `config`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `config`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `audit_log`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.SaveConfig("0xadmin", "bridge_tunables", `{"MaxQuoteAmountUSD":5000}`)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadConfigOverridesReturnsEmptyMapWhenNoneSaved(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM `config`").WillReturnRows(sqlmock.NewRows([]string{"key", "value", "updated_at"}))

	overrides, err := s.LoadConfigOverrides()
	require.NoError(t, err)
	require.Empty(t, overrides)
}

func TestSeedAdminsSkipsAlreadyRegisteredAddresses(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT count").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `admins`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `admins`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `audit_log`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT count").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := s.SeedAdmins([]string{"0xnew", "0xalready-admin"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteRecordTableName(t *testing.T) {
	require.Equal(t, "quotes", QuoteRecord{}.TableName())
}

func TestSettlementRecordTableName(t *testing.T) {
	require.Equal(t, "settlements", SettlementRecord{}.TableName())
}
