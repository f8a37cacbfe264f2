package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/gitzhang10/pbftchain/types"
)

// busy is the time to wait for a sqlite lock held by another process, in ms.
const busy = 1000

// maxRetries bounds how often a transaction is retried on lock contention.
const maxRetries = 100

var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		phase text NOT NULL,
		value text NOT NULL,
		sender text NOT NULL,
		timestamp real NOT NULL,
		signature text NOT NULL,
		PRIMARY KEY (phase, value, sender))`,
	`CREATE TABLE IF NOT EXISTS decisions (
		value text PRIMARY KEY,
		decided integer NOT NULL,
		decided_at integer NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS blocks (
		idx integer PRIMARY KEY,
		value text NOT NULL,
		prev_hash text NOT NULL,
		timestamp text NOT NULL,
		proposer text NOT NULL,
		signature text NOT NULL,
		block_hash text NOT NULL UNIQUE)`,
}

const blockColumns = "idx, value, prev_hash, timestamp, proposer, signature, block_hash"

// SQLiteStore is a Store persisted in a sqlite database file.
type SQLiteStore struct {
	handle *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and installs the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	uri := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=wal&_txlock=immediate", path, busy)
	handle, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, err
	}
	// a single connection serializes writers inside this process
	handle.SetMaxOpenConns(1)

	s := &SQLiteStore{handle: handle}
	err = s.atomic(func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("could not create table: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		handle.Close()
		return nil, err
	}
	return s, nil
}

// dbretry reports whether err is lock contention that warrants a retry.
func dbretry(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == sqlite3.ErrLocked || serr.Code == sqlite3.ErrBusy
}

func isConstraint(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}

// atomic runs fn inside a transaction, retrying on lock contention.
func (s *SQLiteStore) atomic(fn func(tx *sql.Tx) error) (err error) {
	for i := 0; i < maxRetries; i++ {
		var tx *sql.Tx
		tx, err = s.handle.Begin()
		if dbretry(err) {
			continue
		} else if err != nil {
			return err
		}

		err = fn(tx)
		if err != nil {
			tx.Rollback()
			if dbretry(err) {
				continue
			}
			return err
		}

		err = tx.Commit()
		if !dbretry(err) {
			return err
		}
	}
	return fmt.Errorf("transaction gave up after %d retries: %w", maxRetries, err)
}

func (s *SQLiteStore) PutMessage(msg *types.PhaseMessage) (inserted bool, err error) {
	err = s.atomic(func(tx *sql.Tx) error {
		res, err := tx.Exec("INSERT OR IGNORE INTO messages (phase, value, sender, timestamp, signature) VALUES (?, ?, ?, ?, ?)",
			string(msg.Phase), msg.Value, msg.Sender, msg.Timestamp, msg.Signature)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		inserted = n == 1
		return err
	})
	return
}

func (s *SQLiteStore) HasMessage(phase types.Phase, value, sender string) (bool, error) {
	var n int
	err := s.handle.QueryRow("SELECT COUNT(*) FROM messages WHERE phase=? AND value=? AND sender=?",
		string(phase), value, sender).Scan(&n)
	return n > 0, err
}

func (s *SQLiteStore) DistinctSenderCount(phase types.Phase, value string) (int, error) {
	var n int
	err := s.handle.QueryRow("SELECT COUNT(DISTINCT sender) FROM messages WHERE phase=? AND value=?",
		string(phase), value).Scan(&n)
	return n, err
}

func (s *SQLiteStore) CreateDecision(value string, at time.Time) (created bool, err error) {
	err = s.atomic(func(tx *sql.Tx) error {
		res, err := tx.Exec("INSERT OR IGNORE INTO decisions (value, decided, decided_at) VALUES (?, 1, ?)",
			value, at.UnixNano())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		created = n == 1
		return err
	})
	return
}

func (s *SQLiteStore) HasDecision(value string) (bool, error) {
	var n int
	err := s.handle.QueryRow("SELECT COUNT(*) FROM decisions WHERE value=? AND decided=1", value).Scan(&n)
	return n > 0, err
}

func scanBlock(row interface{ Scan(...interface{}) error }) (*types.Block, error) {
	var b types.Block
	err := row.Scan(&b.Index, &b.Value, &b.PrevHash, &b.Timestamp, &b.Proposer, &b.Signature, &b.BlockHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQLiteStore) Tip() (*types.Block, error) {
	return scanBlock(s.handle.QueryRow("SELECT " + blockColumns + " FROM blocks ORDER BY idx DESC LIMIT 1"))
}

func (s *SQLiteStore) BlockAt(index int64) (*types.Block, error) {
	return scanBlock(s.handle.QueryRow("SELECT "+blockColumns+" FROM blocks WHERE idx=?", index))
}

func (s *SQLiteStore) InsertBlock(b *types.Block) (inserted bool, err error) {
	err = s.atomic(func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO blocks ("+blockColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
			b.Index, b.Value, b.PrevHash, b.Timestamp, b.Proposer, b.Signature, b.BlockHash)
		if isConstraint(err) {
			inserted = false
			return nil
		}
		inserted = err == nil
		return err
	})
	return
}

func (s *SQLiteStore) Blocks() ([]types.Block, error) {
	rows, err := s.handle.Query("SELECT " + blockColumns + " FROM blocks ORDER BY idx ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	blocks := make([]types.Block, 0)
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, *b)
	}
	return blocks, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.handle.Close()
}
