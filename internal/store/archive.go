package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// PostgresArchive persists appended trade records for offline analysis.
// The archive is write-behind and best-effort: the in-memory Ledger stays
// authoritative for the live views, and an insert failure only costs the
// archived copy of that cycle's rows.
type PostgresArchive struct {
	db *sql.DB
}

// NewPostgresArchive opens a connection pool and verifies connectivity.
func NewPostgresArchive(ctx context.Context, dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

// Close releases the connection pool.
func (a *PostgresArchive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Insert writes a batch of records in a single transaction.
func (a *PostgresArchive) Insert(ctx context.Context, recs []TradeRecord) error {
	if len(recs) == 0 {
		return nil
	}
	const q = `
		INSERT INTO young_trades (ts, side, price, size, notional, outcome, tx, wallet, slug, wallet_first_ts, is_young)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (tx) DO NOTHING
	`
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		var firstTs sql.NullInt64
		if r.WalletFirstTs != nil {
			firstTs = sql.NullInt64{Int64: *r.WalletFirstTs, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, r.Timestamp, r.Side, r.Price, r.Size,
			r.Notional, r.Outcome, r.Tx, r.Wallet, r.Slug, firstTs, r.IsYoung); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Health pings the database with a short deadline.
func (a *PostgresArchive) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return a.db.PingContext(ctx)
}
