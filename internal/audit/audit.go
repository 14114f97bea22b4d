// Package audit records command invocations in a tamper-evident form. Each
// record carries a digest computed with the same keyed primitive that
// protects User/Group/Policy entities, so an out-of-band edit of an audit
// row is detectable the same way.
package audit

import (
	"context"
	"strings"
	"time"

	"toolgate.org/internal/ids"
	"toolgate.org/internal/integrity"
)

// Record is one persisted usage event.
type Record struct {
	ID         string   `json:"id"`
	Timestamp  string   `json:"timestamp"`
	Group      string   `json:"group"`
	Command    string   `json:"command"`
	Parameters string   `json:"parameters,omitempty"`
	Result     string   `json:"result,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	HashSum    string   `json:"hash_sum"`
}

// HashPayload returns the canonical integrity payload (everything except the
// stored digest).
func (r *Record) HashPayload() map[string]any {
	return map[string]any{
		"id":         r.ID,
		"timestamp":  r.Timestamp,
		"group":      r.Group,
		"command":    r.Command,
		"parameters": r.Parameters,
		"result":     r.Result,
		"warnings":   r.Warnings,
	}
}

// Store persists audit records. Records are append-only; List filters by an
// inclusive timestamp range (empty bounds mean unbounded).
type Store interface {
	Append(ctx context.Context, rec *Record) error
	List(ctx context.Context, from, to string, limit int) ([]*Record, error)
}

// Service writes and verifies audit records.
type Service struct {
	store  Store
	hasher *integrity.Hasher
	now    func() time.Time
}

// NewService constructs the audit service.
func NewService(store Store, hasher *integrity.Hasher) *Service {
	return &Service{store: store, hasher: hasher, now: time.Now}
}

// Save assigns an identifier and timestamp when missing, computes the record
// digest and appends the record.
func (s *Service) Save(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.Timestamp == "" {
		rec.Timestamp = s.now().UTC().Format(time.RFC3339)
	}
	sum, err := s.hasher.Sum(rec)
	if err != nil {
		return err
	}
	rec.HashSum = sum
	return s.store.Append(ctx, rec)
}

// Verify reports whether a stored record still matches its digest.
func (s *Service) Verify(rec *Record) bool {
	if strings.TrimSpace(rec.HashSum) == "" {
		return false
	}
	return s.hasher.Verify(rec, rec.HashSum)
}

// List returns records in the inclusive timestamp range, flagging each as
// intact or compromised.
func (s *Service) List(ctx context.Context, from, to string, limit int) ([]Entry, error) {
	records, err := s.store.List(ctx, from, to, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, Entry{Record: rec, Intact: s.Verify(rec)})
	}
	return entries, nil
}

// Entry pairs a stored record with its integrity verdict.
type Entry struct {
	Record *Record `json:"record"`
	Intact bool    `json:"intact"`
}
