// Package store persists moderation rules in a bbolt database. Each rule is
// one JSON row keyed by its big-endian ID; the condition tree is kept as its
// encoded text in the conditions column.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"comment-moderation/internal/logger"
	"comment-moderation/internal/metrics"
	"comment-moderation/internal/rule"
)

var bucketRules = []byte("rules")

// ErrNotFound is returned for an ID with no stored rule.
var ErrNotFound = errors.New("rule not found")

// row is the stored form of a rule.
type row struct {
	ID         uint64    `json:"id"`
	Name       string    `json:"name"`
	Enabled    bool      `json:"enabled"`
	Conditions string    `json:"conditions"`
	Outcome    string    `json:"outcome"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Repository stores rules. Writes are serialized by bbolt; the last write
// to a row wins.
type Repository struct {
	db      *bbolt.DB
	codec   *rule.Codec
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Open opens (or creates) the database at path and ensures the rules bucket
// exists. codec and m may be nil.
func Open(path string, timeout time.Duration, codec *rule.Codec, log *logger.Logger, m *metrics.Metrics) (*Repository, error) {
	if codec == nil {
		codec = rule.NewCodec()
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open rule store %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRules)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize rule store: %w", err)
	}

	log.Debug("rule store opened", "path", path)

	return &Repository{
		db:      db,
		codec:   codec,
		logger:  log,
		metrics: m,
		now:     time.Now,
	}, nil
}

func (r *Repository) Close() error { return r.db.Close() }

// Get returns the rule stored under id.
func (r *Repository) Get(id uint64) (*rule.Rule, error) {
	var data []byte
	err := r.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketRules).Get(itob(id))
		if v == nil {
			return ErrNotFound
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.decodeRow(data)
}

// All returns every stored rule in ID order. Rows that cannot be decoded are
// left out and reported in the joined error, so one corrupted row does not
// hide the rest.
func (r *Repository) All() ([]rule.Rule, error) {
	var rows [][]byte
	if err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRules).ForEach(func(_, v []byte) error {
			rows = append(rows, append([]byte(nil), v...))
			return nil
		})
	}); err != nil {
		return nil, err
	}

	rules := make([]rule.Rule, 0, len(rows))
	var errs []error
	for _, data := range rows {
		rl, err := r.decodeRow(data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, *rl)
	}
	return rules, errors.Join(errs...)
}

// Count returns the number of stored rules.
func (r *Repository) Count() (int, error) {
	var n int
	err := r.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketRules).Stats().KeyN
		return nil
	})
	return n, err
}

// Upsert inserts rl when its ID is 0 and updates the stored row otherwise.
// On success rl carries the assigned ID and timestamps. Updating an unknown
// ID fails with ErrNotFound; the original creation time is kept.
func (r *Repository) Upsert(rl *rule.Rule) error {
	if rl == nil {
		return fmt.Errorf("rule cannot be nil")
	}

	conditions := ""
	if rl.Conditions != nil {
		text, err := r.codec.Encode(rl.Conditions)
		if err != nil {
			return fmt.Errorf("failed to encode conditions: %w", err)
		}
		conditions = text
	}

	now := r.now().UTC()
	stored := row{
		ID:         rl.ID,
		Name:       rl.Name,
		Enabled:    rl.Enabled,
		Conditions: conditions,
		Outcome:    string(rl.Outcome),
		CreatedAt:  rl.CreatedAt,
		UpdatedAt:  now,
	}

	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRules)

		if stored.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			stored.ID = seq
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = now
			}
		} else {
			existing := b.Get(itob(stored.ID))
			if existing == nil {
				return ErrNotFound
			}
			var prev row
			if err := json.Unmarshal(existing, &prev); err != nil {
				return fmt.Errorf("corrupted row for rule %d: %w", stored.ID, err)
			}
			stored.CreatedAt = prev.CreatedAt
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return b.Put(itob(stored.ID), data)
	})
	if err != nil {
		return err
	}

	rl.ID = stored.ID
	rl.CreatedAt = stored.CreatedAt
	rl.UpdatedAt = stored.UpdatedAt

	r.logger.Debug("rule stored",
		"ruleId", rl.ID,
		"name", rl.Name)

	return nil
}

// Delete removes the rule stored under id.
func (r *Repository) Delete(id uint64) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRules)
		if b.Get(itob(id)) == nil {
			return ErrNotFound
		}
		return b.Delete(itob(id))
	})
}

// decodeRow rebuilds a rule. A tree that fails to decode means the stored
// text was corrupted; it is counted and returned wrapped.
func (r *Repository) decodeRow(data []byte) (*rule.Rule, error) {
	var stored row
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("corrupted rule row: %w", err)
	}

	tree, err := r.codec.Decode(stored.Conditions)
	if err != nil {
		kind := rule.DecodeErrorKind(err)
		if r.metrics != nil {
			r.metrics.IncDecodeErrors(kind.String())
		}
		r.logger.Error("stored condition tree failed to decode",
			"ruleId", stored.ID,
			"kind", kind.String(),
			"error", err)
		return nil, fmt.Errorf("rule %d: stored conditions: %w", stored.ID, err)
	}

	outcome, err := rule.ParseOutcome(stored.Outcome)
	if err != nil {
		return nil, fmt.Errorf("rule %d: %w", stored.ID, err)
	}

	return &rule.Rule{
		ID:         stored.ID,
		Name:       stored.Name,
		Enabled:    stored.Enabled,
		Conditions: tree,
		Outcome:    outcome,
		CreatedAt:  stored.CreatedAt,
		UpdatedAt:  stored.UpdatedAt,
	}, nil
}

func itob(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}
