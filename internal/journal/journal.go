// Package journal keeps a record of every claim attempt and its outcome.
// Records are keyed by the funding output they spend, so a second attempt
// against the same output replaces the first.
package journal

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	klog "github.com/Klingon-tech/klingdrop/internal/log"
	"github.com/Klingon-tech/klingdrop/internal/storage"
)

// ErrNotFound is returned when no record exists for an ID.
var ErrNotFound = errors.New("journal record not found")

// State is the last step a claim attempt reached.
type State string

// Claim attempt states.
const (
	StateSelected  State = "selected"
	StateSubmitted State = "submitted"
	StateSigned    State = "signed"
	StateBroadcast State = "broadcast"
	StateRejected  State = "rejected"
	StateFailed    State = "failed"
)

var keyPrefix = []byte("claim/")

// Record is one claim attempt.
type Record struct {
	ID             string    `json:"id"`
	Attempt        string    `json:"attempt"`
	FundingAddress string    `json:"funding_address"`
	Receiver       string    `json:"receiver"`
	TxID           string    `json:"txid"`
	Vout           uint32    `json:"vout"`
	DropSats       uint64    `json:"drop_sats"`
	ChangeSats     int64     `json:"change_sats"`
	State          State     `json:"state"`
	TxHash         string    `json:"tx_hash,omitempty"`
	Recovered      bool      `json:"recovered,omitempty"`
	Result         string    `json:"result,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RecordID derives the ID of the record for a funding output.
func RecordID(fundingAddress, txid string, vout uint32) string {
	h := blake3.New()
	h.Write([]byte(fundingAddress))
	h.Write([]byte{'|'})
	h.Write([]byte(txid))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatUint(uint64(vout), 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Journal stores records in a storage.DB.
type Journal struct {
	mu  sync.Mutex
	db  storage.DB
	now func() time.Time
}

// New creates a journal over db.
func New(db storage.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

// Put writes rec, filling in its ID and timestamps. CreatedAt is kept
// from an existing record with the same ID.
func (j *Journal) Put(rec *Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if rec.ID == "" {
		rec.ID = RecordID(rec.FundingAddress, rec.TxID, rec.Vout)
	}
	now := j.now().UTC()
	if rec.CreatedAt.IsZero() {
		if prev, err := j.get(rec.ID); err == nil {
			rec.CreatedAt = prev.CreatedAt
		} else {
			rec.CreatedAt = now
		}
	}
	rec.UpdatedAt = now

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	if err := j.db.Put(key(rec.ID), data); err != nil {
		return fmt.Errorf("store record %s: %w", rec.ID, err)
	}

	klog.Journal.Debug().
		Str("id", rec.ID).
		Str("state", string(rec.State)).
		Msg("Journal record written")
	return nil
}

// Get returns the record with the given ID.
func (j *Journal) Get(id string) (*Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.get(id)
}

func (j *Journal) get(id string) (*Record, error) {
	data, err := j.db.Get(key(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, nil
}

// List returns all records in ID order.
func (j *Journal) List() ([]*Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var recs []*Record
	err := j.db.ForEach(keyPrefix, func(k, v []byte) error {
		var rec Record
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("decode record %s: %w", k[len(keyPrefix):], err)
		}
		recs = append(recs, &rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func key(id string) []byte {
	k := make([]byte, 0, len(keyPrefix)+len(id))
	k = append(k, keyPrefix...)
	return append(k, id...)
}
