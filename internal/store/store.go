// Package store persists calibration results in a bbolt database.
//
// Each bucket keeps the latest entry per link under the link id plus a
// history keyed by "<link>/<timestamp>".
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/krystian-wojtas/skydive/internal/message"
)

var (
	bucketRadio    = []byte("radio_calibration")
	bucketSettings = []byte("calibration_settings")
)

// ErrNotFound is returned when a link has no stored calibration.
var ErrNotFound = errors.New("NOT_FOUND")

// Record is a stored calibration with the time it was saved.
type Record[T any] struct {
	LinkID  string    `json:"linkId"`
	SavedAt time.Time `json:"savedAt"`
	Value   T         `json:"value"`
}

// Store is a calibration database.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open calibration store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRadio, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// SaveRadioCalibration stores a radio calibration for linkID.
func (s *Store) SaveRadioCalibration(linkID string, cal message.RadioCalibration) error {
	return put(s, bucketRadio, linkID, cal)
}

// SaveCalibrationSettings stores sensor calibration settings for linkID.
func (s *Store) SaveCalibrationSettings(linkID string, settings message.CalibrationSettings) error {
	return put(s, bucketSettings, linkID, settings)
}

// LatestRadioCalibration returns the last radio calibration saved for linkID.
func (s *Store) LatestRadioCalibration(linkID string) (Record[message.RadioCalibration], error) {
	return latest[message.RadioCalibration](s, bucketRadio, linkID)
}

// LatestCalibrationSettings returns the last settings saved for linkID.
func (s *Store) LatestCalibrationSettings(linkID string) (Record[message.CalibrationSettings], error) {
	return latest[message.CalibrationSettings](s, bucketSettings, linkID)
}

// RadioCalibrationHistory returns every radio calibration saved for linkID,
// oldest first.
func (s *Store) RadioCalibrationHistory(linkID string) ([]Record[message.RadioCalibration], error) {
	return history[message.RadioCalibration](s, bucketRadio, linkID)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func put[T any](s *Store, bucket []byte, linkID string, value T) error {
	if linkID == "" {
		return errors.New("link id is required")
	}
	rec := Record[T]{LinkID: linkID, SavedAt: s.now().UTC(), Value: value}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", bucket, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if err := b.Put(historyKey(linkID, rec.SavedAt), data); err != nil {
			return err
		}
		return b.Put(latestKey(linkID), data)
	})
}

func latest[T any](s *Store, bucket []byte, linkID string) (Record[T], error) {
	var rec Record[T]
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucket).Get(latestKey(linkID))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	return rec, err
}

func history[T any](s *Store, bucket []byte, linkID string) ([]Record[T], error) {
	var out []Record[T]
	prefix := []byte(linkID + "/")
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec Record[T]
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt entry %s: %w", k, err)
			}
			// Nested link ids share the prefix
			if rec.LinkID == linkID {
				out = append(out, rec)
			}
		}
		return nil
	})
	return out, err
}

func latestKey(linkID string) []byte {
	return []byte(linkID)
}

// RFC3339Nano with a fixed-width fraction so keys sort by time.
func historyKey(linkID string, t time.Time) []byte {
	return []byte(linkID + "/" + t.Format("2006-01-02T15:04:05.000000000Z07:00"))
}
