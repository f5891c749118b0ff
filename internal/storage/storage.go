// Package storage persists process state in BoltDB: login sessions and the
// last campaign snapshot the store was seeded from.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/reviewdesk/internal/campaign"
)

var (
	bucketSessions = []byte("sessions")
	bucketSnapshot = []byte("snapshot")

	keySnapshot = []byte("current")
)

// ErrNotFound is returned for unknown session tokens
var ErrNotFound = errors.New("not found")

// Session is a persisted login
type Session struct {
	Token     string        `json:"token"`
	User      campaign.User `json:"user"`
	Theme     string        `json:"theme,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Snapshot is the last known store contents
type Snapshot struct {
	Campaigns []campaign.Campaign `json:"campaigns"`
	Designers []campaign.Designer `json:"designers"`
	SavedAt   time.Time           `json:"saved_at"`
}

// Storage wraps a BoltDB file
type Storage struct {
	db   *bolt.DB
	path string
}

// Open opens or creates the database at path
func Open(path string) (*Storage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSessions, bucketSnapshot} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{db: db, path: path}, nil
}

// DB returns the underlying database, shared with the metrics collector
func (s *Storage) DB() *bolt.DB {
	return s.db
}

// Path returns the database file path
func (s *Storage) Path() string {
	return s.path
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// SaveSession stores or replaces a session
func (s *Storage) SaveSession(sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(sess.Token), data)
	})
}

// GetSession returns the session for token
func (s *Storage) GetSession(token string) (*Session, error) {
	var sess Session
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get([]byte(token))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// DeleteSession removes a session. Unknown tokens are not an error.
func (s *Storage) DeleteSession(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(token))
	})
}

// LoadSessions returns every stored session that has not expired and
// deletes the expired ones.
func (s *Storage) LoadSessions(now time.Time) ([]*Session, error) {
	var sessions []*Session
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)

		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var sess Session
			if err := json.Unmarshal(v, &sess); err != nil {
				expired = append(expired, append([]byte(nil), k...))
				return nil
			}
			if sess.Expired(now) {
				expired = append(expired, append([]byte(nil), k...))
				return nil
			}
			sessions = append(sessions, &sess)
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	return sessions, nil
}

// SaveSnapshot stores the current campaigns and designers
func (s *Storage) SaveSnapshot(snap *Snapshot) error {
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshot).Put(keySnapshot, data)
	})
}

// LoadSnapshot returns the stored snapshot, or nil if none was saved
func (s *Storage) LoadSnapshot() (*Snapshot, error) {
	var snap *Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshot).Get(keySnapshot)
		if data == nil {
			return nil
		}
		snap = &Snapshot{}
		return json.Unmarshal(data, snap)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return snap, nil
}
