package session

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/wallet"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionColumns = []string{"account", "btc_public_key", "near_account_id", "public_key"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS wallet_sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ALTER TABLE wallet_sessions ADD COLUMN IF NOT EXISTS public_key").WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := newPostgresStore(context.Background(), db, "testnet", zerolog.Nop())
	require.NoError(t, err)
	return store, mock
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	creds := wallet.SessionCredentials{
		Account:       "tb1qalice",
		BTCPublicKey:  "02aa",
		NearAccountID: "csna.testnet",
		PublicKey:     "secp256k1:abc",
	}

	mock.ExpectQuery("SELECT account, btc_public_key, near_account_id, public_key FROM wallet_sessions").
		WithArgs("testnet").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO wallet_sessions").
		WithArgs("testnet", creds.Account, creds.BTCPublicKey, creds.NearAccountID, creds.PublicKey).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT account, btc_public_key, near_account_id, public_key FROM wallet_sessions").
		WithArgs("testnet").
		WillReturnRows(sqlmock.NewRows(sessionColumns).AddRow(creds.Account, creds.BTCPublicKey, creds.NearAccountID, creds.PublicKey))
	mock.ExpectExec("DELETE FROM wallet_sessions").
		WithArgs("testnet").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT account").
		WithArgs("testnet").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectClose()

	_, err := store.Load(ctx)
	assert.True(t, errors.Is(err, wallet.ErrNoSession))

	require.NoError(t, store.Save(ctx, creds))
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, creds, *loaded)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Load(ctx)
	assert.True(t, errors.Is(err, wallet.ErrNoSession))

	require.NoError(t, store.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreWrapsErrors(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT account").WillReturnError(errors.New("connection reset"))
	mock.ExpectExec("INSERT INTO wallet_sessions").WillReturnError(errors.New("read only"))

	_, err := store.Load(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, wallet.ErrNoSession))
	assert.Contains(t, err.Error(), "load session")

	err = store.Save(ctx, wallet.SessionCredentials{BTCPublicKey: "02aa"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save session")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSchemaFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS wallet_sessions").WillReturnError(errors.New("permission denied"))

	_, err = newPostgresStore(context.Background(), db, "testnet", zerolog.Nop())
	assert.Error(t, err)
}

// SATOSHI_TEST_POSTGRES_DSN points at a disposable database
func TestPostgresStoreLive(t *testing.T) {
	dsn := os.Getenv("SATOSHI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SATOSHI_TEST_POSTGRES_DSN not set")
	}

	store, err := NewPostgresStore(context.Background(), dsn, "live-test", zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Clear(context.Background()))
	exerciseStore(t, store)
}
