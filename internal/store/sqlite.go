package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Hamza1s34/Gumnam/internal/errs"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	sender TEXT,
	recipient TEXT,
	payload TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	is_sent INTEGER NOT NULL,
	is_read INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS contacts (
	address TEXT PRIMARY KEY,
	nickname TEXT,
	last_seen INTEGER,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender);
CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient);
`

// SQLiteStore is the reference Store implementation, grounded in the
// sibling keysaver-server module's own "open file, run embedded schema,
// wrap in a narrow type" pattern, adapted here to the messages/contacts
// shape of SPEC_FULL.md §4.D (itself a direct port of the original Rust
// MessageStorage schema).
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path and ensures the schema
// exists.
func Open(path string) (*SQLiteStore, error) {
	const op = "store.Open"

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.New(op, errs.StorageFailed, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.New(op, errs.StorageFailed, fmt.Errorf("init schema: %w", err))
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) AddContact(addr, nickname string) error {
	const op = "store.AddContact"
	_, err := s.db.Exec(
		`INSERT INTO contacts (address, nickname, last_seen) VALUES (?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET nickname=excluded.nickname, last_seen=excluded.last_seen`,
		addr, nickname, time.Now().Unix(),
	)
	if err != nil {
		return errs.New(op, errs.StorageFailed, err)
	}
	return nil
}

func (s *SQLiteStore) GetContact(addr string) (*Contact, error) {
	const op = "store.GetContact"
	row := s.db.QueryRow(`SELECT address, nickname, last_seen FROM contacts WHERE address = ?`, addr)

	var c Contact
	var nickname sql.NullString
	var lastSeen sql.NullInt64
	if err := row.Scan(&c.Address, &nickname, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.New(op, errs.StorageFailed, err)
	}
	c.Nickname = nickname.String
	c.LastSeen = lastSeen.Int64
	return &c, nil
}

func (s *SQLiteStore) ListContacts() ([]Contact, error) {
	const op = "store.ListContacts"
	rows, err := s.db.Query(`SELECT address, nickname, last_seen FROM contacts ORDER BY last_seen DESC`)
	if err != nil {
		return nil, errs.New(op, errs.StorageFailed, err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		var nickname sql.NullString
		var lastSeen sql.NullInt64
		if err := rows.Scan(&c.Address, &nickname, &lastSeen); err != nil {
			return nil, errs.New(op, errs.StorageFailed, err)
		}
		c.Nickname = nickname.String
		c.LastSeen = lastSeen.Int64
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteContact(addr string) error {
	const op = "store.DeleteContact"
	if _, err := s.db.Exec(`DELETE FROM contacts WHERE address = ?`, addr); err != nil {
		return errs.New(op, errs.StorageFailed, err)
	}
	return nil
}

// SaveMessage inserts m, reporting inserted=false rather than an error when
// id already exists — the same duplicate-suppression discipline the
// original storage.rs applies by inspecting the driver's constraint-
// violation error, translated to modernc.org/sqlite's own error text since
// the pure-Go driver does not expose a typed constraint-violation error.
func (s *SQLiteStore) SaveMessage(m Message) (bool, error) {
	const op = "store.SaveMessage"
	_, err := s.db.Exec(
		`INSERT INTO messages (id, kind, sender, recipient, payload, timestamp, is_sent, is_read)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Kind, m.Sender, m.Recipient, m.Payload, m.Timestamp, boolToInt(m.IsSent), boolToInt(m.IsRead),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, errs.New(op, errs.StorageFailed, err)
	}
	return true, nil
}

func (s *SQLiteStore) ListMessages(peer string, limit int) ([]Message, error) {
	const op = "store.ListMessages"
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if peer == "" {
		rows, err = s.db.Query(
			`SELECT id, kind, sender, recipient, payload, timestamp, is_sent, is_read
			 FROM messages ORDER BY timestamp DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(
			`SELECT id, kind, sender, recipient, payload, timestamp, is_sent, is_read
			 FROM messages WHERE sender = ? OR recipient = ? ORDER BY timestamp DESC LIMIT ?`,
			peer, peer, limit)
	}
	if err != nil {
		return nil, errs.New(op, errs.StorageFailed, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var sender, recipient sql.NullString
		var isSent, isRead int
		if err := rows.Scan(&m.ID, &m.Kind, &sender, &recipient, &m.Payload, &m.Timestamp, &isSent, &isRead); err != nil {
			return nil, errs.New(op, errs.StorageFailed, err)
		}
		m.Sender = sender.String
		m.Recipient = recipient.String
		m.IsSent = isSent != 0
		m.IsRead = isRead != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkRead(id string) error {
	const op = "store.MarkRead"
	if _, err := s.db.Exec(`UPDATE messages SET is_read = 1 WHERE id = ?`, id); err != nil {
		return errs.New(op, errs.StorageFailed, err)
	}
	return nil
}

func (s *SQLiteStore) ClearChat(addr string) error {
	const op = "store.ClearChat"
	if _, err := s.db.Exec(`DELETE FROM messages WHERE sender = ? OR recipient = ?`, addr, addr); err != nil {
		return errs.New(op, errs.StorageFailed, err)
	}
	return nil
}

// Wipe removes every stored message and contact (the store side of S6).
func (s *SQLiteStore) Wipe() error {
	const op = "store.Wipe"
	if _, err := s.db.Exec(`DELETE FROM messages`); err != nil {
		return errs.New(op, errs.StorageFailed, err)
	}
	if _, err := s.db.Exec(`DELETE FROM contacts`); err != nil {
		return errs.New(op, errs.StorageFailed, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}

var _ Store = (*SQLiteStore)(nil)
