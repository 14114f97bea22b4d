package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"toolgate.org/internal/catalog"
	"toolgate.org/internal/integrity"
	"toolgate.org/internal/obs"
	"toolgate.org/internal/policy"
)

// Service authenticates callers and resolves their effective command view.
// It owns the per-group aggregated-statement cache for the lifetime of the
// process; concurrent requests share it behind a read-write lock, and a
// racing recomputation of the same group is harmless (the aggregation is
// idempotent and side-effect-free on the store).
type Service struct {
	store   Store
	hasher  *integrity.Hasher
	catalog catalog.Tree

	secret         []byte
	catalogVersion string
	now            func() time.Time

	mu              sync.RWMutex
	groupStatements map[string][]policy.Statement
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithCatalogVersion sets the catalog version embedded into issued tokens.
func WithCatalogVersion(version string) ServiceOption {
	return func(s *Service) {
		if v := strings.TrimSpace(version); v != "" {
			s.catalogVersion = v
		}
	}
}

// NewService constructs the authorization service. The secret signs bearer
// tokens; entity integrity uses the hasher, which is keyed with the same
// process-wide secret by the caller.
func NewService(store Store, hasher *integrity.Hasher, tree catalog.Tree, secret string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if hasher == nil {
		return nil, errors.New("auth: integrity hasher is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: secret is required")
	}
	s := &Service{
		store:           store,
		hasher:          hasher,
		catalog:         tree,
		secret:          []byte(secret),
		catalogVersion:  "1",
		now:             time.Now,
		groupStatements: make(map[string][]policy.Statement),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CatalogVersion returns the version reported in issued tokens.
func (s *Service) CatalogVersion() string { return s.catalogVersion }

// AuthRequest carries caller credentials. Exactly one of Password or Token
// must be set. ForceRefresh bypasses the per-group statement cache so a
// fresh login always sees a freshly verified permission set.
type AuthRequest struct {
	Username     string
	Password     string
	Token        string
	ForceRefresh bool
}

// AuthResult is the caller's effective view: the pruned command catalog and
// the allowed-values overlay from the user's metadata.
type AuthResult struct {
	Username      string
	Commands      catalog.Tree
	AllowedValues map[string][]string
}

// Authenticate resolves and validates the caller, aggregates the statements
// of every group on the user record (from cache unless ForceRefresh), and
// prunes the catalog accordingly. All rejections past the input-shape checks
// collapse to the generic access-revoked message; the precise reason is
// logged, never returned.
func (s *Service) Authenticate(ctx context.Context, req AuthRequest) (AuthResult, error) {
	hasPassword := req.Password != ""
	hasToken := req.Token != ""
	switch {
	case !hasPassword && !hasToken:
		return AuthResult{}, Unauthorized("Password or token was not provided")
	case hasPassword && hasToken:
		return AuthResult{}, BadRequest("Either password or token must be provided, not both")
	}

	var user *User
	var err error
	if hasToken {
		claims, decodeErr := s.decodeToken(req.Token)
		if decodeErr != nil {
			return AuthResult{}, decodeErr
		}
		user, err = s.loadUser(ctx, claims.Username)
		if err != nil {
			return AuthResult{}, err
		}
		if err := s.checkUser(user); err != nil {
			return AuthResult{}, err
		}
	} else {
		user, err = s.loadUser(ctx, req.Username)
		if err != nil {
			return AuthResult{}, err
		}
		if err := s.checkUser(user); err != nil {
			return AuthResult{}, err
		}
		digest := s.hasher.SecureString(req.Password)
		if !integrity.Equal(digest, user.Password) {
			obs.Log(map[string]any{
				"event": "auth.password.mismatch", "username": user.Username,
			})
			return AuthResult{}, Unauthorized(MsgAccessDenied)
		}
	}

	statements, err := s.resolveStatements(ctx, user.Groups, req.ForceRefresh)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{
		Username:      user.Username,
		Commands:      policy.Evaluate(s.catalog, statements),
		AllowedValues: user.Meta.AllowedValues,
	}, nil
}

func (s *Service) loadUser(ctx context.Context, username string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, BadRequest("Username is empty")
	}
	user, err := s.store.Users().Get(ctx, username)
	if errors.Is(err, ErrNotFound) {
		obs.Log(map[string]any{"event": "auth.user.missing", "username": username})
		return nil, Unauthorized("User does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load user: %w", err)
	}
	return user, nil
}

// checkUser fails closed on a tampered or non-activated user record. The
// distinction between the two is logged but never exposed.
func (s *Service) checkUser(user *User) error {
	if !s.hasher.Verify(user, user.Hash) {
		obs.Log(map[string]any{
			"event": "auth.user.compromised", "username": user.Username,
		})
		return Unauthorized(MsgAccessRevoked)
	}
	if user.State != StateActivated {
		obs.Log(map[string]any{
			"event": "auth.user.inactive", "username": user.Username,
			"state": user.State,
		})
		return Unauthorized(MsgAccessRevoked)
	}
	return nil
}

// resolveStatements concatenates the aggregated statement lists of the given
// groups, recomputing any group that is absent from the cache or when
// forceRefresh is set.
func (s *Service) resolveStatements(ctx context.Context, groups []string, forceRefresh bool) ([]policy.Statement, error) {
	var aggregated []policy.Statement
	for _, name := range groups {
		if !forceRefresh {
			s.mu.RLock()
			cached, ok := s.groupStatements[name]
			s.mu.RUnlock()
			if ok {
				aggregated = append(aggregated, cached...)
				continue
			}
		}
		statements, err := s.aggregateGroup(ctx, name)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.groupStatements[name] = statements
		s.mu.Unlock()
		obs.PermissionsCacheRefresh.Inc()
		aggregated = append(aggregated, statements...)
	}
	return aggregated, nil
}

func (s *Service) aggregateGroup(ctx context.Context, name string) ([]policy.Statement, error) {
	group, err := s.store.Groups().Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		obs.Log(map[string]any{"event": "auth.group.missing", "group": name})
		return nil, Unauthorized(MsgAccessRevoked)
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load group: %w", err)
	}
	if !s.hasher.Verify(group, group.Hash) {
		obs.Log(map[string]any{"event": "auth.group.compromised", "group": name})
		return nil, Unauthorized(MsgAccessRevoked)
	}
	if group.State != StateActivated {
		obs.Log(map[string]any{
			"event": "auth.group.inactive", "group": name, "state": group.State,
		})
		return nil, Unauthorized(MsgAccessRevoked)
	}

	var statements []policy.Statement
	for _, policyName := range group.Policies {
		item, err := s.store.Policies().Get(ctx, policyName)
		if errors.Is(err, ErrNotFound) {
			obs.Log(map[string]any{"event": "auth.policy.missing", "policy": policyName})
			return nil, Unauthorized(MsgAccessRevoked)
		}
		if err != nil {
			return nil, fmt.Errorf("auth: load policy: %w", err)
		}
		if !s.hasher.Verify(item, item.Hash) {
			obs.Log(map[string]any{"event": "auth.policy.compromised", "policy": policyName})
			return nil, Unauthorized(MsgAccessRevoked)
		}
		if item.State != StateActivated {
			obs.Log(map[string]any{
				"event": "auth.policy.inactive", "policy": policyName, "state": item.State,
			})
			return nil, Unauthorized(MsgAccessRevoked)
		}
		statements = append(statements, item.Content...)
	}
	return statements, nil
}
