// Package state persists client-local durable state in a bbolt
// database: the offline action queue entries and the session cursor
// used to decide whether a new connection is a reconnect.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	actionsBucket = []byte("offline_actions")
	sessionBucket = []byte("session")
	sessionKey    = []byte("current")
)

// Session records the last known connection context. IdentityHash is
// the SHA-256 hex digest of the identity token, never the raw token,
// so credentials do not reach disk.
type Session struct {
	IdentityHash    string    `json:"identity_hash"`
	LastConnectedAt time.Time `json:"last_connected_at"`
}

// IdentityHash returns the SHA-256 hex digest of an identity token.
func IdentityHash(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// State wraps a bbolt database for all persistent client state.
type State struct {
	db *bolt.DB
}

// Open opens (or creates) the state database at the given path. The
// required buckets are created on open.
func Open(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(actionsBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(sessionBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Session returns the stored session, defaulting to the zero value when
// none has been recorded yet.
func (s *State) Session() (Session, error) {
	var sess Session

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionBucket).Get(sessionKey)
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &sess)
	})

	return sess, err
}

// SetSession persists the session cursor.
func (s *State) SetSession(sess Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}

		return tx.Bucket(sessionBucket).Put(sessionKey, data)
	})
}

// Get returns the serialized action for key, or nil if absent.
// Implements the actions.Store interface.
func (s *State) Get(key string) ([]byte, error) {
	var out []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(actionsBucket).Get([]byte(key))
		if v != nil {
			out = make([]byte, len(v))
			copy(out, v)
		}

		return nil
	})

	return out, err
}

// Set stores a serialized action under key.
func (s *State) Set(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(actionsBucket).Put([]byte(key), value)
	})
}

// Delete removes the action stored under key.
func (s *State) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(actionsBucket).Delete([]byte(key))
	})
}

// List returns all stored actions keyed by id.
func (s *State) List() (map[string][]byte, error) {
	result := make(map[string][]byte)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(actionsBucket).ForEach(func(k, v []byte) error {
			cp := make([]byte, len(v))
			copy(cp, v)
			result[string(k)] = cp

			return nil
		})
	})

	return result, err
}

// DefaultPath returns the default state database location under the
// user's home directory.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".plaza-realtime", "state.db"), nil
}
