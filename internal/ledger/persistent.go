package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/statusbot/internal/storage"
)

// RecordStore is the subset of storage.Store backing a Persistent ledger.
type RecordStore interface {
	UpsertUpdateRecord(email string, at time.Time) error
	GetUpdateRecord(email string) (storage.UpdateRecord, error)
	ListUpdateRecords() ([]storage.UpdateRecord, error)
}

// Persistent is a Ledger that survives restarts by writing through to sqlite.
type Persistent struct {
	store RecordStore
}

// NewPersistent wraps a RecordStore.
func NewPersistent(store RecordStore) *Persistent {
	return &Persistent{store: store}
}

func (p *Persistent) RecordUpdate(email string, at time.Time) error {
	if err := p.store.UpsertUpdateRecord(normalize(email), at); err != nil {
		return fmt.Errorf("recording update for %s: %w", email, err)
	}
	return nil
}

func (p *Persistent) LastUpdate(email string) (time.Time, bool, error) {
	rec, err := p.store.GetUpdateRecord(normalize(email))
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading update for %s: %w", email, err)
	}
	return rec.LastUpdateAt, true, nil
}

func (p *Persistent) Snapshot() ([]Record, error) {
	recs, err := p.store.ListUpdateRecords()
	if err != nil {
		return nil, fmt.Errorf("listing updates: %w", err)
	}
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = Record{Email: r.Email, LastUpdateAt: r.LastUpdateAt}
	}
	return out, nil
}
