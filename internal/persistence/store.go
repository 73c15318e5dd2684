// Package persistence is the append-mostly store for signals, orders,
// trades, order provenance and metric snapshots (spec §4.11). Writes are
// at-least-once with dedupe keys; reads serve only startup reconciliation
// and external queries.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	_ "modernc.org/sqlite"
	"go.uber.org/zap"
)

// Store owns the sqlite connection and a bounded writer queue so the
// orchestrator's tick loop never blocks on disk I/O.
type Store struct {
	db     *sql.DB
	log    *zap.Logger
	writes chan writeJob
	done   chan struct{}
}

type writeJob struct {
	exec func(*sql.DB) error
	name string
}

// Open creates (if absent) and migrates the sqlite database at cfg.Path,
// and starts the background writer goroutine.
func Open(cfg types.PersistenceConfig, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("persistence: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite + WAL: single writer, matches the store's own serialisation

	if cfg.WALEnabled {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("persistence: enable wal: %w", err)
		}
	}

	s := &Store{
		db:     db,
		log:    log.Named("persistence"),
		writes: make(chan writeJob, cfg.WriterQueueCap),
		done:   make(chan struct{}),
	}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	go s.runWriter()
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			signal_id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			strategy_name TEXT NOT NULL,
			regime TEXT NOT NULL,
			side TEXT NOT NULL,
			confidence TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			client_tag TEXT PRIMARY KEY,
			ticket INTEGER,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			volume TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticket INTEGER NOT NULL,
			closed_at TEXT NOT NULL,
			payload TEXT NOT NULL,
			UNIQUE(ticket, closed_at)
		)`,
		`CREATE TABLE IF NOT EXISTS order_provenance (
			order_id TEXT PRIMARY KEY,
			signal_id TEXT NOT NULL,
			strategy_name TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metric_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("persistence: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) runWriter() {
	for {
		select {
		case job := <-s.writes:
			if err := job.exec(s.db); err != nil {
				s.log.Error("write failed", zap.String("job", job.name), zap.Error(err))
			}
		case <-s.done:
			return
		}
	}
}

// enqueue submits a write job, blocking only if the bounded queue is full
// (back-pressure rather than an unbounded memory leak).
func (s *Store) enqueue(name string, exec func(*sql.DB) error) {
	s.writes <- writeJob{exec: exec, name: name}
}

// Close stops the writer goroutine and closes the database handle.
func (s *Store) Close() error {
	close(s.done)
	return s.db.Close()
}

// WriteSignal appends a signal record, deduped by signal_id.
func (s *Store) WriteSignal(signal types.Signal, regime types.RegimeLabel) {
	payload, _ := json.Marshal(signal)
	s.enqueue("write_signal", func(db *sql.DB) error {
		_, err := db.Exec(`INSERT OR IGNORE INTO signals (signal_id, symbol, strategy_name, regime, side, confidence, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			signal.SignalID, signal.Symbol, signal.StrategyName, string(regime), string(signal.Side), signal.Confidence.String(), string(payload), time.Now().Format(time.RFC3339))
		return err
	})
}

// WriteOrder appends an order record, deduped by client_tag.
func (s *Store) WriteOrder(req types.OrderRequest, result types.OrderResult) {
	payload, _ := json.Marshal(result)
	s.enqueue("write_order", func(db *sql.DB) error {
		_, err := db.Exec(`INSERT OR IGNORE INTO orders (client_tag, ticket, symbol, side, volume, status, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			req.ClientTag, result.Ticket, req.Symbol, string(req.Side), req.Volume.String(), string(result.Status), string(payload), time.Now().Format(time.RFC3339))
		return err
	})
}

// WriteTrade appends a closed trade record, deduped by (ticket, closed_at).
func (s *Store) WriteTrade(trade types.Trade) {
	payload, _ := json.Marshal(trade)
	s.enqueue("write_trade", func(db *sql.DB) error {
		_, err := db.Exec(`INSERT OR IGNORE INTO trades (ticket, closed_at, payload) VALUES (?, ?, ?)`,
			trade.Ticket, trade.ClosedAt.Format(time.RFC3339Nano), string(payload))
		return err
	})
}

// WriteProvenance appends a provenance record, deduped by order_id.
func (s *Store) WriteProvenance(rec types.ProvenanceRecord) {
	payload, _ := json.Marshal(rec)
	s.enqueue("write_provenance", func(db *sql.DB) error {
		_, err := db.Exec(`INSERT OR IGNORE INTO order_provenance (order_id, signal_id, strategy_name, payload, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			rec.OrderID, rec.SignalID, rec.StrategyName, string(payload), time.Now().Format(time.RFC3339))
		return err
	})
}

// WriteMetricSnapshot appends a point-in-time metrics snapshot.
func (s *Store) WriteMetricSnapshot(snapshot any) {
	payload, _ := json.Marshal(snapshot)
	s.enqueue("write_metric_snapshot", func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO metric_snapshots (taken_at, payload) VALUES (?, ?)`,
			time.Now().Format(time.RFC3339), string(payload))
		return err
	})
}

// ReconcileOpenTickets reads distinct tickets from the most recent orders
// table rows whose status looks filled, for startup re-seeding of
// PositionManager before the first broker reconciliation runs.
func (s *Store) ReconcileOpenTickets(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT ticket FROM orders WHERE status IN ('filled', 'partial') AND ticket != 0`)
	if err != nil {
		return nil, fmt.Errorf("persistence: reconcile open tickets: %w", err)
	}
	defer rows.Close()

	var tickets []int64
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// Provenance retrieves a provenance record by order ID for external
// queries (spec §6 /provenance endpoint).
func (s *Store) Provenance(ctx context.Context, orderID string) (*types.ProvenanceRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM order_provenance WHERE order_id = ?`, orderID)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var rec types.ProvenanceRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
