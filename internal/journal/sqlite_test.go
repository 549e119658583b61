package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSQLiteRecorder_RoundTrip(t *testing.T) {
	r := openTestRecorder(t)

	require.NoError(t, r.RecordVerdict(&VerdictEvent{
		Broker: "paper", Ticker: "TSLA", Price: 88, AverageCost: 100,
		Dividends: 2.5, Quantity: 10, Verdict: "SELL_CRITICAL",
	}))
	require.NoError(t, r.RecordOrder(&OrderEvent{
		Broker: "paper", Ticker: "TSLA", Side: "SELL", Quantity: 10, Status: "FILLED",
	}))
	require.NoError(t, r.RecordWashSale(&WashSaleEvent{
		Ticker: "TSLA", Action: "ARMED", LossDate: "2026-08-26",
	}))

	var verdict string
	var price float64
	row := r.db.QueryRow("SELECT verdict, price FROM verdicts WHERE ticker = ?", "TSLA")
	require.NoError(t, row.Scan(&verdict, &price))
	require.Equal(t, "SELL_CRITICAL", verdict)
	require.Equal(t, 88.0, price)

	var status string
	row = r.db.QueryRow("SELECT status FROM orders WHERE ticker = ?", "TSLA")
	require.NoError(t, row.Scan(&status))
	require.Equal(t, "FILLED", status)

	var action, lossDate string
	row = r.db.QueryRow("SELECT action, loss_date FROM wash_sale_events WHERE ticker = ?", "TSLA")
	require.NoError(t, row.Scan(&action, &lossDate))
	require.Equal(t, "ARMED", action)
	require.Equal(t, "2026-08-26", lossDate)
}

func TestSQLiteRecorder_MigrationIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	r, err := NewSQLiteRecorder(path)
	require.NoError(t, err)
	require.NoError(t, r.RecordWashSale(&WashSaleEvent{Ticker: "SPY", Action: "EXPIRED"}))
	require.NoError(t, r.Close())

	// Reopening the same file must keep existing rows.
	r, err = NewSQLiteRecorder(path)
	require.NoError(t, err)
	defer r.Close()

	var n int
	require.NoError(t, r.db.QueryRow("SELECT COUNT(*) FROM wash_sale_events").Scan(&n))
	require.Equal(t, 1, n)
}
