package checkpoint

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"           // Registers "postgres".
	_ "github.com/mattn/go-sqlite3" // Registers "sqlite3".
	"github.com/pkg/errors"
	"go.docrelay.dev/core/protocol"
)

// SQLStore is a Store implementation which utilizes a remote database having a
// "database/sql" compatible driver. Checkpoints are persisted to a table
// "docrelay_checkpoints" having a schema like:
//
//	CREATE TABLE docrelay_checkpoints (
//	  database_name   TEXT    NOT NULL,
//	  collection_name TEXT    NOT NULL,
//	  db_level        BOOLEAN NOT NULL,
//	  is_current      BOOLEAN NOT NULL,
//	  last_processed  BYTEA,
//	  fence           INTEGER NOT NULL,
//	  PRIMARY KEY (database_name, collection_name, db_level)
//	);
//
// OpenSQLStore creates the table if it doesn't exist. Exact data types may
// vary with the store dialect.
type SQLStore struct {
	DB *sql.DB

	table string
}

var _ Store = &SQLStore{} // SQLStore is-a Store.

// NewSQLStore returns a new SQLStore using the *DB. The checkpoint table must
// already exist.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{DB: db, table: "docrelay_checkpoints"}
}

// OpenSQLStore opens a *DB of the driver and data source, creates the
// checkpoint table if required, and returns a SQLStore.
func OpenSQLStore(ctx context.Context, driver, dataSource string) (*SQLStore, error) {
	var db, err = sql.Open(driver, dataSource)
	if err != nil {
		return nil, errors.WithMessagef(err, "opening %s database", driver)
	}
	var s = NewSQLStore(db)

	if _, err = db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			database_name   TEXT    NOT NULL,
			collection_name TEXT    NOT NULL,
			db_level        BOOLEAN NOT NULL,
			is_current      BOOLEAN NOT NULL,
			last_processed  BYTEA,
			fence           INTEGER NOT NULL,
			PRIMARY KEY (database_name, collection_name, db_level)
		);`, s.table)); err != nil {
		_ = db.Close()
		return nil, errors.WithMessage(err, "creating checkpoint table")
	}
	return s, nil
}

// Load implements Store. Within a SQL transaction, it increments the fence
// of the target's row (inserting the row if absent) and selects it.
func (s *SQLStore) Load(ctx context.Context, target protocol.WatchTarget) (rec protocol.Record, _ error) {
	if err := target.Validate(); err != nil {
		return rec, err
	}
	var txn, err = s.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, errors.WithMessage(err, "beginning transaction")
	}
	defer func() { _ = txn.Rollback() }()

	var update sql.Result
	var rowsAffected int64

	update, err = txn.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET fence=fence+1
		WHERE database_name=$1 AND collection_name=$2 AND db_level=$3;`, s.table),
		target.Database, target.Collection, target.DatabaseLevel)
	if err == nil {
		rowsAffected, err = update.RowsAffected()
	}
	if err == nil && rowsAffected == 0 {
		_, err = txn.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (database_name, collection_name, db_level, is_current, last_processed, fence)
			VALUES ($1, $2, $3, $4, NULL, 1);`, s.table),
			target.Database, target.Collection, target.DatabaseLevel, true)
	}
	if err != nil {
		return rec, errors.WithMessagef(err, "fencing checkpoint of %s", target)
	}

	var lastProcessed []byte
	if err = txn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT is_current, last_processed, fence FROM %s
		WHERE database_name=$1 AND collection_name=$2 AND db_level=$3;`, s.table),
		target.Database, target.Collection, target.DatabaseLevel,
	).Scan(&rec.Current, &lastProcessed, &rec.Fence); err != nil {
		return rec, errors.WithMessagef(err, "selecting checkpoint of %s", target)
	} else if err = txn.Commit(); err != nil {
		return rec, errors.WithMessage(err, "committing transaction")
	}

	rec.Target = target
	if len(lastProcessed) != 0 {
		rec.LastProcessed = protocol.Token(lastProcessed)
	}
	return rec, nil
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, rec protocol.Record) error {
	var lastProcessed []byte
	if !rec.LastProcessed.IsZero() {
		lastProcessed = rec.LastProcessed
	}

	var update, err = s.DB.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET last_processed=$1
		WHERE database_name=$2 AND collection_name=$3 AND db_level=$4 AND fence=$5;`, s.table),
		lastProcessed, rec.Target.Database, rec.Target.Collection, rec.Target.DatabaseLevel, rec.Fence)

	var rowsAffected int64
	if err == nil {
		rowsAffected, err = update.RowsAffected()
	}
	if err != nil {
		return errors.WithMessagef(err, "saving checkpoint of %s", rec.Target)
	} else if rowsAffected == 0 {
		return ErrFenced
	}
	return nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context) ([]protocol.Record, error) {
	var rows, err = s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT database_name, collection_name, db_level, is_current, last_processed, fence
		FROM %s WHERE is_current=$1;`, s.table), true)
	if err != nil {
		return nil, errors.WithMessage(err, "listing checkpoints")
	}
	defer rows.Close()

	var out []protocol.Record
	for rows.Next() {
		var rec protocol.Record
		var lastProcessed []byte

		if err = rows.Scan(&rec.Target.Database, &rec.Target.Collection, &rec.Target.DatabaseLevel,
			&rec.Current, &lastProcessed, &rec.Fence); err != nil {
			return nil, errors.WithMessage(err, "scanning checkpoint")
		}
		if len(lastProcessed) != 0 {
			rec.LastProcessed = protocol.Token(lastProcessed)
		}
		out = append(out, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}
