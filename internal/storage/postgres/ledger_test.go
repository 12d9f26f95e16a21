package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
)

func TestRecordAttemptInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := scrape.AttemptRecord{
		RunID:       "run-1",
		Source:      "fresh",
		Key:         "snapshot_abcdefghij.json",
		RegionID:    "48453",
		SourceURL:   "https://www.zillow.com/homes/?searchQueryState=x",
		Outcome:     scrape.OutcomeSuccess,
		ResultCount: 2,
		PoolTag:     "datacenter",
		Profile:     "profile-07",
		FinishedAt:  now,
	}

	mock.ExpectExec("INSERT INTO scrape_attempts").
		WithArgs(
			"run-1",
			"fresh",
			"snapshot_abcdefghij.json",
			"48453",
			rec.SourceURL,
			"success",
			2,
			0,
			"",
			"datacenter",
			"profile-07",
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, ledger.RecordAttempt(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAttemptPropagatesExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "attempts")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO attempts").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = ledger.RecordAttempt(context.Background(), scrape.AttemptRecord{Key: "k", Outcome: scrape.OutcomeFailure})
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAttemptRequiresKey(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, ledger.RecordAttempt(context.Background(), scrape.AttemptRecord{}))
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS scrape_attempts").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, ledger.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLedgerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewLedgerWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewLedgerWithPool(mock, "bad-name;drop")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewLedger(context.Background(), LedgerConfig{})
	require.ErrorContains(t, err, "dsn is required")
}
