// Package admin implements the administrative mutation paths over the
// entity store: user, group and policy lifecycle, membership management
// and password changes. Every mutation recomputes the entity integrity
// hash before saving, so a record written through this package always
// verifies. Mutations against a record that fails the integrity check do
// not proceed silently; they return a confirmation-required result and
// the caller re-invokes with Confirmed set.
package admin

import (
	"errors"
	"fmt"
	"time"

	"toolgate.org/internal/auth"
	"toolgate.org/internal/integrity"
	"toolgate.org/internal/obs"
)

// Service performs administrative mutations against the entity store.
type Service struct {
	store  auth.Store
	hasher *integrity.Hasher
	now    func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the administrative service over the given store
// and integrity hasher.
func NewService(store auth.Store, hasher *integrity.Hasher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("admin: store is required")
	}
	if hasher == nil {
		return nil, errors.New("admin: integrity hasher is required")
	}
	s := &Service{store: store, hasher: hasher, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Result is the outcome of a mutation. When ConfirmationRequired is set
// the mutation did NOT run: the target record failed its integrity check
// and the caller must repeat the request with Confirmed to proceed.
type Result struct {
	Message              string   `json:"message"`
	ConfirmationRequired bool     `json:"confirmation_required,omitempty"`
	Warnings             []string `json:"warnings,omitempty"`
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// guardIntegrity checks a record's stored hash before a mutation. It
// returns a confirmation-required Result and ok=false when the record is
// compromised and the caller has not confirmed.
func (s *Service) guardIntegrity(entity integrity.Hashable, stored, kind, name string, confirmed bool) (Result, bool) {
	if s.hasher.Verify(entity, stored) {
		return Result{}, true
	}
	obs.Log(map[string]any{
		"event": "admin.integrity.mismatch", "kind": kind, "name": name,
		"confirmed": confirmed,
	})
	if confirmed {
		return Result{Warnings: []string{
			fmt.Sprintf("%s '%s' failed the integrity check; proceeding on explicit confirmation", kind, name),
		}}, true
	}
	return Result{
		Message:              fmt.Sprintf("%s '%s' failed the integrity check", kind, name),
		ConfirmationRequired: true,
		Warnings: []string{
			fmt.Sprintf("%s '%s' was modified outside the service; repeat the request with confirmation to proceed", kind, name),
		},
	}, false
}
