package sqlitedriver

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

var defaultQueryTimeout = 5 * time.Second

// Driver persists area values in a single sqlite table.
type Driver struct {
	db      *sql.DB
	timeout time.Duration
}

// Open opens or creates the database at dsn. ":memory:" is accepted.
func Open(dsn string) (*Driver, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open sqlite database %s", dsn)
	}

	// a single connection keeps ":memory:" databases coherent
	db.SetMaxOpenConns(1)

	d := &Driver{db: db, timeout: defaultQueryTimeout}

	ctx, cancel := d.ctx()
	defer cancel()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "could not create kv table")
	}

	return d, nil
}

func (d *Driver) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d.timeout)
}

func (d *Driver) Load(key string) ([]byte, bool, error) {
	ctx, cancel := d.ctx()
	defer cancel()

	var v []byte
	err := d.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "could not select key %s", key)
	}

	if v == nil {
		v = []byte{}
	}

	return v, true, nil
}

func (d *Driver) Store(key string, v []byte) error {
	ctx, cancel := d.ctx()
	defer cancel()

	if v == nil {
		v = []byte{}
	}

	_, err := d.db.ExecContext(
		ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, v, time.Now().UnixMilli(),
	)
	if err != nil {
		return errors.Wrapf(err, "could not upsert key %s", key)
	}

	return nil
}

func (d *Driver) Delete(key string) error {
	ctx, cancel := d.ctx()
	defer cancel()

	if _, err := d.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return errors.Wrapf(err, "could not delete key %s", key)
	}

	return nil
}

func (d *Driver) Close() error {
	if err := d.db.Close(); err != nil {
		return errors.Wrap(err, "could not close sqlite database")
	}
	return nil
}
