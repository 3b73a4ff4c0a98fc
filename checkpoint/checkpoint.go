// Package checkpoint stores chain checkpoints in a bolt database.
package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// log is the global logging variable.
var log = logging.MustGetLogger("checkpoint")

// MAIN is the bucket name for all the checkpoints.
var MAIN = []byte("main")

// OperatorData is the saved state of an operator.
type OperatorData struct {
	Weight float64 `json:"weight"`
	// BaseWeight is the weight before reweighting.
	BaseWeight float64 `json:"baseWeight"`
	// Tuning is the coercable parameter, it is only set for
	// coercible operators.
	Tuning        *float64 `json:"tuning,omitempty"`
	Count         int      `json:"count"`
	Accepted      int      `json:"accepted"`
	Rejected      int      `json:"rejected"`
	Failed        int      `json:"failed"`
	SumAcceptProb float64  `json:"sumAcceptProb"`
	// State is the operator specific state, e.g. the learned
	// proposal of an adaptive operator.
	State json.RawMessage `json:"state,omitempty"`
}

// Data is a chain checkpoint.
type Data struct {
	RunID      string                  `json:"runID"`
	Parameters map[string][]float64    `json:"parameters"`
	Posterior  float64                 `json:"posterior"`
	Iter       int                     `json:"iter"`
	Final      bool                    `json:"final"`
	Operators  map[string]OperatorData `json:"operators"`
}

// CheckpointIO saves and loads checkpoints of a single chain.
type CheckpointIO struct {
	db      *bolt.DB
	key     []byte
	last    time.Time
	seconds float64
}

// NewCheckpointIO creates a new CheckpointIO. Checkpoints are saved
// not more often than every seconds.
func NewCheckpointIO(db *bolt.DB, key []byte, seconds float64) (s *CheckpointIO) {
	s = &CheckpointIO{
		db:      db,
		key:     key,
		seconds: seconds,
		last:    time.Now(),
	}
	return
}

// Open opens (or creates) a checkpoint database.
func Open(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening checkpoint database %s", path)
	}
	return db, nil
}

// Save saves a checkpoint.
func (s *CheckpointIO) Save(data *Data) error {
	// Even if saving fails, we do not want to run this code too often.
	s.SetNow()
	dataB, err := json.Marshal(data)
	if err != nil {
		log.Error("Error serializing checkpoint", err)
		return err
	}
	err = SaveData(s.db, s.key, dataB)
	if err != nil {
		log.Error("Error saving checkpoint", err)
		return err
	}
	log.Debugf("Saved checkpoint %s (iter=%d)", s.key, data.Iter)
	return nil
}

// Load returns the saved checkpoint or nil if there is none.
func (s *CheckpointIO) Load() (*Data, error) {
	var data *Data

	b, err := LoadData(s.db, s.key)
	if err != nil || b == nil {
		return nil, err
	}

	if err = json.Unmarshal(b, &data); err != nil {
		return nil, errors.Wrapf(err, "checkpoint %s", s.key)
	}

	if data == nil || len(data.Parameters) == 0 {
		return nil, nil
	}

	if data.Final {
		log.Noticef("Found finished chain checkpoint (iter=%v, posterior=%v)", data.Iter, data.Posterior)
	} else {
		log.Noticef("Found unfinished chain checkpoint (iter=%v, posterior=%v)", data.Iter, data.Posterior)
	}

	return data, nil
}

// Old returns true if the last checkpoint was saved too long ago.
func (s *CheckpointIO) Old() bool {
	return time.Since(s.last).Seconds() > s.seconds
}

// SetNow sets last checkpoint time to now.
func (s *CheckpointIO) SetNow() {
	s.last = time.Now()
}

// SaveData saves values in bolt database.
func SaveData(db *bolt.DB, key []byte, data []byte) error {
	if db == nil {
		return nil
	}
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(MAIN)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// LoadData loads data from bolt database. Data is copied, it is valid
// after the transaction.
func LoadData(db *bolt.DB, key []byte) ([]byte, error) {
	var data []byte
	if db == nil {
		return nil, nil
	}
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(MAIN)
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			data = append(make([]byte, 0, len(v)), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
