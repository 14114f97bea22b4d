package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"toolgate.org/internal/catalog"
	"toolgate.org/internal/integrity"
	"toolgate.org/internal/policy"
)

// memStore is an in-memory Store used across the auth tests. It counts
// reads so cache behavior can be asserted.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*User
	groups   map[string]*Group
	policies map[string]*Policy

	groupReads  int
	policyReads int
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]*User{},
		groups:   map[string]*Group{},
		policies: map[string]*Policy{},
	}
}

func (m *memStore) Users() UserStore      { return (*memUsers)(m) }
func (m *memStore) Groups() GroupStore    { return (*memGroups)(m) }
func (m *memStore) Policies() PolicyStore { return (*memPolicies)(m) }

type memUsers memStore

func (m *memUsers) Get(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memUsers) Save(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *user
	m.users[user.Username] = &copied
	return nil
}

func (m *memUsers) Scan(_ context.Context) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		copied := *u
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memUsers) Delete(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, username)
	return nil
}

type memGroups memStore

func (m *memGroups) Get(_ context.Context, name string) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groupReads++
	g, ok := m.groups[name]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *g
	return &copied, nil
}

func (m *memGroups) Save(_ context.Context, group *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *group
	m.groups[group.GroupName] = &copied
	return nil
}

func (m *memGroups) Scan(_ context.Context) ([]*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		copied := *g
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memGroups) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, name)
	return nil
}

type memPolicies memStore

func (m *memPolicies) Get(_ context.Context, name string) (*Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policyReads++
	p, ok := m.policies[name]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *memPolicies) Save(_ context.Context, item *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *item
	m.policies[item.PolicyName] = &copied
	return nil
}

func (m *memPolicies) Scan(_ context.Context) ([]*Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Policy, 0, len(m.policies))
	for _, p := range m.policies {
		copied := *p
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memPolicies) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.policies, name)
	return nil
}

const testSecret = "service-test-secret"

func testCatalog() catalog.Tree {
	return catalog.Tree{
		"aws": catalog.Module(map[string]*catalog.Node{
			"ec2": catalog.Group(map[string]*catalog.Node{
				"describe":  catalog.Command(),
				"terminate": catalog.Command(),
			}),
			"whoami": catalog.Command(),
		}),
		"gcp": catalog.Module(map[string]*catalog.Node{
			"list": catalog.Command(),
		}),
	}
}

// seedFixtures populates a user in group "operators" whose single policy
// allows everything in the aws module.
func seedFixtures(t *testing.T, store *memStore, hasher *integrity.Hasher) {
	t.Helper()
	ctx := context.Background()

	pol := &Policy{
		PolicyName: "aws-full",
		Content: []policy.Statement{
			{Effect: policy.EffectAllow, Module: "aws", Resources: []string{"*"}},
		},
		State:        StateActivated,
		CreationDate: "2026-01-01T00:00:00Z",
	}
	sum, err := hasher.Sum(pol)
	if err != nil {
		t.Fatalf("hash policy: %v", err)
	}
	pol.Hash = sum
	if err := store.Policies().Save(ctx, pol); err != nil {
		t.Fatalf("save policy: %v", err)
	}

	grp := &Group{
		GroupName:    "operators",
		Policies:     []string{"aws-full"},
		State:        StateActivated,
		CreationDate: "2026-01-01T00:00:00Z",
	}
	sum, err = hasher.Sum(grp)
	if err != nil {
		t.Fatalf("hash group: %v", err)
	}
	grp.Hash = sum
	if err := store.Groups().Save(ctx, grp); err != nil {
		t.Fatalf("save group: %v", err)
	}

	user := &User{
		Username:     "jdoe",
		Groups:       []string{"operators"},
		Password:     hasher.SecureString("correcthorsebattery"),
		State:        StateActivated,
		CreationDate: "2026-01-01T00:00:00Z",
		Meta: UserMeta{
			AllowedValues: map[string][]string{"region": {"eu-west-1"}},
		},
	}
	sum, err = hasher.Sum(user)
	if err != nil {
		t.Fatalf("hash user: %v", err)
	}
	user.Hash = sum
	if err := store.Users().Save(ctx, user); err != nil {
		t.Fatalf("save user: %v", err)
	}
}

func newTestService(t *testing.T, store *memStore, opts ...ServiceOption) (*Service, *integrity.Hasher) {
	t.Helper()
	hasher, err := integrity.NewHasher(testSecret)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	svc, err := NewService(store, hasher, testCatalog(), testSecret, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, hasher
}

func TestAuthenticateByPassword(t *testing.T) {
	store := newMemStore()
	svc, hasher := newTestService(t, store)
	seedFixtures(t, store, hasher)

	result, err := svc.Authenticate(context.Background(), AuthRequest{
		Username: "jdoe",
		Password: "correcthorsebattery",
	})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if result.Username != "jdoe" {
		t.Fatalf("unexpected username: %s", result.Username)
	}
	if _, ok := result.Commands["aws"]; !ok {
		t.Fatalf("aws module should be visible")
	}
	if _, ok := result.Commands["gcp"]; ok {
		t.Fatalf("gcp module must not be visible")
	}
	if got := result.AllowedValues["region"]; len(got) != 1 || got[0] != "eu-west-1" {
		t.Fatalf("allowed values lost: %v", result.AllowedValues)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	store := newMemStore()
	svc, hasher := newTestService(t, store)
	seedFixtures(t, store, hasher)

	_, err := svc.Authenticate(context.Background(), AuthRequest{
		Username: "jdoe",
		Password: "not-the-password",
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err.Error() != MsgAccessDenied {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestAuthenticateMissingUser(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(t, store)

	_, err := svc.Authenticate(context.Background(), AuthRequest{
		Username: "ghost",
		Password: "whatever",
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthenticateBlankUsername(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(t, store)

	_, err := svc.Authenticate(context.Background(), AuthRequest{
		Username: "   ",
		Password: "whatever",
	})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("blank username must be a bad request, got %v", err)
	}
}

func TestAuthenticateCredentialShape(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(t, store)

	if _, err := svc.Authenticate(context.Background(), AuthRequest{Username: "jdoe"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("no credentials must be unauthorized, got %v", err)
	}
	_, err := svc.Authenticate(context.Background(), AuthRequest{
		Username: "jdoe", Password: "a", Token: "b",
	})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("both credentials must be a bad request, got %v", err)
	}
}

func TestAuthenticateTamperedUser(t *testing.T) {
	store := newMemStore()
	svc, hasher := newTestService(t, store)
	seedFixtures(t, store, hasher)

	// Direct datastore edit: grant an extra group without rehashing.
	store.mu.Lock()
	store.users["jdoe"].Groups = append(store.users["jdoe"].Groups, "admins")
	store.mu.Unlock()

	_, err := svc.Authenticate(context.Background(), AuthRequest{
		Username: "jdoe",
		Password: "correcthorsebattery",
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("tampered user must be unauthorized, got %v", err)
	}
	if err.Error() != MsgAccessRevoked {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestAuthenticateBlockedUser(t *testing.T) {
	store := newMemStore()
	svc, hasher := newTestService(t, store)
	seedFixtures(t, store, hasher)

	store.mu.Lock()
	user := store.users["jdoe"]
	user.State = StateBlocked
	user.StateReason = "offboarding"
	store.mu.Unlock()
	sum, err := hasher.Sum(user)
	if err != nil {
		t.Fatalf("rehash: %v", err)
	}
	store.mu.Lock()
	user.Hash = sum
	store.mu.Unlock()

	_, err = svc.Authenticate(context.Background(), AuthRequest{
		Username: "jdoe",
		Password: "correcthorsebattery",
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("blocked user must be unauthorized, got %v", err)
	}
	if err.Error() != MsgAccessRevoked {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestAuthenticateByToken(t *testing.T) {
	store := newMemStore()
	svc, hasher := newTestService(t, store)
	seedFixtures(t, store, hasher)

	token, _, err := svc.IssueToken("jdoe")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	result, err := svc.Authenticate(context.Background(), AuthRequest{Token: token})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if result.Username != "jdoe" {
		t.Fatalf("unexpected username: %s", result.Username)
	}
	if _, ok := result.Commands["aws"]; !ok {
		t.Fatalf("aws module should be visible")
	}
}

func TestAuthenticateExpiredToken(t *testing.T) {
	store := newMemStore()
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, hasher := newTestService(t, store, WithClock(func() time.Time { return current }))
	seedFixtures(t, store, hasher)

	token, _, err := svc.IssueToken("jdoe")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	current = current.Add(25 * time.Hour)
	_, err = svc.Authenticate(context.Background(), AuthRequest{Token: token})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired token must be unauthorized, got %v", err)
	}
	if err.Error() != MsgTokenExpired {
		t.Fatalf("relogin message must be stable, got %q", err.Error())
	}
}

func TestAuthenticateGarbageToken(t *testing.T) {
	store := newMemStore()
	svc, hasher := newTestService(t, store)
	seedFixtures(t, store, hasher)

	_, err := svc.Authenticate(context.Background(), AuthRequest{Token: "not-a-jwt"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err.Error() != MsgAccessDenied {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestStatementCacheReuse(t *testing.T) {
	store := newMemStore()
	svc, hasher := newTestService(t, store)
	seedFixtures(t, store, hasher)

	for i := 0; i < 3; i++ {
		if _, err := svc.Authenticate(context.Background(), AuthRequest{
			Username: "jdoe", Password: "correcthorsebattery",
		}); err != nil {
			t.Fatalf("Authenticate #%d: %v", i, err)
		}
	}
	store.mu.Lock()
	groupReads, policyReads := store.groupReads, store.policyReads
	store.mu.Unlock()
	if groupReads != 1 || policyReads != 1 {
		t.Fatalf("expected one aggregation, got groups=%d policies=%d", groupReads, policyReads)
	}
}

func TestStatementCacheForceRefresh(t *testing.T) {
	store := newMemStore()
	svc, hasher := newTestService(t, store)
	seedFixtures(t, store, hasher)

	ctx := context.Background()
	if _, err := svc.Authenticate(ctx, AuthRequest{
		Username: "jdoe", Password: "correcthorsebattery",
	}); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	// Revoke the policy behind the group, rehashing so the record is valid.
	store.mu.Lock()
	pol := store.policies["aws-full"]
	pol.State = StateRemoved
	store.mu.Unlock()
	sum, err := hasher.Sum(pol)
	if err != nil {
		t.Fatalf("rehash: %v", err)
	}
	store.mu.Lock()
	pol.Hash = sum
	store.mu.Unlock()

	// A cached login still succeeds on the stale aggregation.
	if _, err := svc.Authenticate(ctx, AuthRequest{
		Username: "jdoe", Password: "correcthorsebattery",
	}); err != nil {
		t.Fatalf("cached login should still pass: %v", err)
	}

	// ForceRefresh re-verifies the chain and fails closed.
	_, err = svc.Authenticate(ctx, AuthRequest{
		Username: "jdoe", Password: "correcthorsebattery", ForceRefresh: true,
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("revoked policy must fail on refresh, got %v", err)
	}
}

func TestAuthenticateCompromisedGroup(t *testing.T) {
	store := newMemStore()
	svc, hasher := newTestService(t, store)
	seedFixtures(t, store, hasher)

	store.mu.Lock()
	store.groups["operators"].Policies = append(store.groups["operators"].Policies, "root-everything")
	store.mu.Unlock()

	_, err := svc.Authenticate(context.Background(), AuthRequest{
		Username: "jdoe", Password: "correcthorsebattery",
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("compromised group must be unauthorized, got %v", err)
	}
	if err.Error() != MsgAccessRevoked {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}
