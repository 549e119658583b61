package journal

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder writes history to a local SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL so read-only tooling can query while the bot writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS verdicts (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp    INTEGER NOT NULL,
			broker       TEXT,
			ticker       TEXT,
			price        REAL,
			average_cost REAL,
			dividends    REAL,
			quantity     INTEGER,
			verdict      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_ts ON verdicts(timestamp)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			broker    TEXT,
			ticker    TEXT,
			side      TEXT,
			quantity  INTEGER,
			status    TEXT,
			detail    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_ts ON orders(timestamp)`,

		`CREATE TABLE IF NOT EXISTS wash_sale_events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			ticker    TEXT,
			action    TEXT,
			loss_date TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wash_ts ON wash_sale_events(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:32], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordVerdict(evt *VerdictEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO verdicts
		(timestamp, broker, ticker, price, average_cost, dividends, quantity, verdict)
		VALUES (?,?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.Broker, evt.Ticker, evt.Price,
		evt.AverageCost, evt.Dividends, evt.Quantity, evt.Verdict,
	)
	return err
}

func (r *SQLiteRecorder) RecordOrder(evt *OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO orders
		(timestamp, broker, ticker, side, quantity, status, detail)
		VALUES (?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.Broker, evt.Ticker, evt.Side,
		evt.Quantity, evt.Status, evt.Detail,
	)
	return err
}

func (r *SQLiteRecorder) RecordWashSale(evt *WashSaleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO wash_sale_events
		(timestamp, ticker, action, loss_date)
		VALUES (?,?,?,?)`,
		time.Now().Unix(), evt.Ticker, evt.Action, evt.LossDate,
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
