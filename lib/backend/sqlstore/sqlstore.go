// Package sqlstore is the database/sql-backed backend.Store implementation
// (spec §4.9 "SQL store"), built on github.com/mattn/go-sqlite3. Each entity
// is stored as a JSON document keyed by its natural id(s); the relational
// schema exists to give organization/id lookups real SQL indices rather than
// to normalize the domain into columns, matching spec §6's "the datamodel
// schema is free; what is binding is the causal-clock invariants."
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/gravitational/trace"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/parsec-io/parsec-server/lib/backend"
	"github.com/parsec-io/parsec-server/lib/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS organizations (
	id TEXT PRIMARY KEY,
	doc BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	org_id TEXT NOT NULL,
	id TEXT NOT NULL,
	email TEXT NOT NULL,
	doc BLOB NOT NULL,
	PRIMARY KEY (org_id, id)
);
CREATE INDEX IF NOT EXISTS users_by_email ON users(org_id, email);
CREATE TABLE IF NOT EXISTS devices (
	org_id TEXT NOT NULL,
	id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	doc BLOB NOT NULL,
	PRIMARY KEY (org_id, id)
);
CREATE INDEX IF NOT EXISTS devices_by_user ON devices(org_id, user_id);
CREATE TABLE IF NOT EXISTS realms (
	org_id TEXT NOT NULL,
	id TEXT NOT NULL,
	doc BLOB NOT NULL,
	checkpoint INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (org_id, id)
);
CREATE TABLE IF NOT EXISTS vlobs (
	org_id TEXT NOT NULL,
	id TEXT NOT NULL,
	realm_id TEXT NOT NULL,
	doc BLOB NOT NULL,
	PRIMARY KEY (org_id, id)
);
CREATE INDEX IF NOT EXISTS vlobs_by_realm ON vlobs(org_id, realm_id);
CREATE TABLE IF NOT EXISTS blocks (
	org_id TEXT NOT NULL,
	id TEXT NOT NULL,
	realm_id TEXT NOT NULL,
	doc BLOB NOT NULL,
	PRIMARY KEY (org_id, id)
);
CREATE INDEX IF NOT EXISTS blocks_by_realm ON blocks(org_id, realm_id);
CREATE TABLE IF NOT EXISTS invitations (
	org_id TEXT NOT NULL,
	token TEXT NOT NULL,
	claimer_email TEXT,
	status TEXT NOT NULL,
	doc BLOB NOT NULL,
	PRIMARY KEY (org_id, token)
);
CREATE TABLE IF NOT EXISTS sequester_services (
	org_id TEXT NOT NULL,
	id TEXT NOT NULL,
	doc BLOB NOT NULL,
	PRIMARY KEY (org_id, id)
);
CREATE TABLE IF NOT EXISTS sequester_ciphertexts (
	org_id TEXT NOT NULL,
	vlob_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	service_id TEXT NOT NULL,
	ciphertext BLOB NOT NULL,
	PRIMARY KEY (org_id, vlob_id, version, service_id)
);
CREATE TABLE IF NOT EXISTS shamir_setups (
	org_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	doc BLOB NOT NULL,
	PRIMARY KEY (org_id, user_id)
);
`

// Store is a database/sql-backed backend.Store. Safe for concurrent use: the
// underlying *sql.DB pools its own connections, and per-(organization,topic)
// advisory locks are held in-process exactly like memstore's.
type Store struct {
	log *logrus.Entry
	db  *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open creates (if needed) and opens a sqlite3 database at dsn ("file:..."
// or ":memory:") and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// sqlite3 does not support concurrent writers; a single connection
	// keeps every statement serialized against the file lock.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, trace.Wrap(err)
	}
	return &Store{
		log:   logrus.WithField(trace.Component, "sqlstore"),
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Lock implements backend.Store.
func (s *Store) Lock(ctx context.Context, org types.OrganizationID, topic backend.Topic) (backend.Unlock, error) {
	key := string(org) + "/" + string(topic)

	s.mu.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.Lock()
		close(done)
	}()
	select {
	case <-done:
		return func() { m.Unlock() }, nil
	case <-ctx.Done():
		go func() { <-done; m.Unlock() }()
		return nil, trace.Wrap(ctx.Err())
	}
}

func marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return b, nil
}

func unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// mattn/go-sqlite3 returns a *sqlite3.Error whose Error() string
	// contains "UNIQUE constraint failed" for a primary-key collision;
	// matching on the string avoids an extra type-assert import of the
	// driver's error type across this file.
	return err != nil && (containsUniqueMsg(err.Error()))
}

func containsUniqueMsg(s string) bool {
	const needle = "UNIQUE constraint failed"
	for i := 0; i+len(needle) <= len(s); i++ {
		if s[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

var _ backend.Store = (*Store)(nil)
