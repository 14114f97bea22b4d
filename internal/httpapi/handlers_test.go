package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"toolgate.org/internal/auth"
	"toolgate.org/internal/catalog"
	"toolgate.org/internal/integrity"
	"toolgate.org/internal/policy"
)

type stubStore struct {
	users    map[string]*auth.User
	groups   map[string]*auth.Group
	policies map[string]*auth.Policy
}

func (s *stubStore) Users() auth.UserStore      { return stubUsers{s} }
func (s *stubStore) Groups() auth.GroupStore    { return stubGroups{s} }
func (s *stubStore) Policies() auth.PolicyStore { return stubPolicies{s} }

type stubUsers struct{ s *stubStore }

func (u stubUsers) Get(_ context.Context, username string) (*auth.User, error) {
	if v, ok := u.s.users[username]; ok {
		copied := *v
		return &copied, nil
	}
	return nil, auth.ErrNotFound
}
func (u stubUsers) Save(_ context.Context, user *auth.User) error {
	u.s.users[user.Username] = user
	return nil
}
func (u stubUsers) Scan(_ context.Context) ([]*auth.User, error) { return nil, nil }
func (u stubUsers) Delete(_ context.Context, _ string) error     { return nil }

type stubGroups struct{ s *stubStore }

func (g stubGroups) Get(_ context.Context, name string) (*auth.Group, error) {
	if v, ok := g.s.groups[name]; ok {
		copied := *v
		return &copied, nil
	}
	return nil, auth.ErrNotFound
}
func (g stubGroups) Save(_ context.Context, group *auth.Group) error {
	g.s.groups[group.GroupName] = group
	return nil
}
func (g stubGroups) Scan(_ context.Context) ([]*auth.Group, error) { return nil, nil }
func (g stubGroups) Delete(_ context.Context, _ string) error      { return nil }

type stubPolicies struct{ s *stubStore }

func (p stubPolicies) Get(_ context.Context, name string) (*auth.Policy, error) {
	if v, ok := p.s.policies[name]; ok {
		copied := *v
		return &copied, nil
	}
	return nil, auth.ErrNotFound
}
func (p stubPolicies) Save(_ context.Context, item *auth.Policy) error {
	p.s.policies[item.PolicyName] = item
	return nil
}
func (p stubPolicies) Scan(_ context.Context) ([]*auth.Policy, error) { return nil, nil }
func (p stubPolicies) Delete(_ context.Context, _ string) error       { return nil }

const (
	testSecret   = "httpapi-test-secret"
	testPassword = "correcthorsebattery"
)

func newTestAPI(t *testing.T) *API {
	t.Helper()
	hasher, err := integrity.NewHasher(testSecret)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	store := &stubStore{
		users:    map[string]*auth.User{},
		groups:   map[string]*auth.Group{},
		policies: map[string]*auth.Policy{},
	}

	pol := &auth.Policy{
		PolicyName: "aws-full",
		Content: []policy.Statement{
			{Effect: policy.EffectAllow, Module: "aws", Resources: []string{"*"}},
		},
		State:        auth.StateActivated,
		CreationDate: "2026-01-01T00:00:00Z",
	}
	pol.Hash, err = hasher.Sum(pol)
	if err != nil {
		t.Fatalf("hash policy: %v", err)
	}
	store.policies[pol.PolicyName] = pol

	grp := &auth.Group{
		GroupName:    "ops",
		Policies:     []string{"aws-full"},
		State:        auth.StateActivated,
		CreationDate: "2026-01-01T00:00:00Z",
	}
	grp.Hash, err = hasher.Sum(grp)
	if err != nil {
		t.Fatalf("hash group: %v", err)
	}
	store.groups[grp.GroupName] = grp

	user := &auth.User{
		Username:     "jdoe",
		Groups:       []string{"ops"},
		Password:     hasher.SecureString(testPassword),
		State:        auth.StateActivated,
		CreationDate: "2026-01-01T00:00:00Z",
		Meta: auth.UserMeta{
			AllowedValues: map[string][]string{"region": {"eu-west-1"}},
		},
	}
	user.Hash, err = hasher.Sum(user)
	if err != nil {
		t.Fatalf("hash user: %v", err)
	}
	store.users[user.Username] = user

	tree := catalog.Tree{
		"aws": catalog.Module(map[string]*catalog.Node{
			"ec2": catalog.Group(map[string]*catalog.Node{
				"describe": catalog.Command(),
			}),
		}),
		"gcp": catalog.Module(map[string]*catalog.Node{
			"list": catalog.Command(),
		}),
	}

	svc, err := auth.NewService(store, hasher, tree, testSecret)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return New(svc, ReadyProbe{}, "test")
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestLoginSuccess(t *testing.T) {
	api := newTestAPI(t)

	rr := postJSON(t, api.Handler(), "/login", map[string]any{
		"username": "jdoe",
		"password": testPassword,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp loginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("token must be present")
	}
	if resp.Username != "jdoe" {
		t.Fatalf("username = %q", resp.Username)
	}
	if _, ok := resp.Commands["aws"]; !ok {
		t.Fatal("aws module must be visible")
	}
	if _, ok := resp.Commands["gcp"]; ok {
		t.Fatal("gcp module must be pruned")
	}
	if got := resp.AllowedValues["region"]; len(got) != 1 || got[0] != "eu-west-1" {
		t.Fatalf("allowed values lost: %v", resp.AllowedValues)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	api := newTestAPI(t)

	rr := postJSON(t, RequestID(api.Handler()), "/login", map[string]any{
		"username": "jdoe",
		"password": "not-the-password",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != auth.MsgAccessDenied {
		t.Fatalf("error = %v", body["error"])
	}
	if rid, ok := body["request_id"].(string); !ok || rid == "" {
		t.Fatal("request_id must be present")
	}
}

func TestLoginBlankUsername(t *testing.T) {
	api := newTestAPI(t)

	rr := postJSON(t, api.Handler(), "/login", map[string]any{
		"username": "",
		"password": "whatever",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestLoginRejectsGet(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Allow"), http.MethodPost) {
		t.Fatalf("Allow header = %q", rr.Header().Get("Allow"))
	}
}

func TestLoginRejectsUnknownFields(t *testing.T) {
	api := newTestAPI(t)

	rr := postJSON(t, api.Handler(), "/login", map[string]any{
		"username": "jdoe",
		"password": testPassword,
		"extra":    true,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestRefresh(t *testing.T) {
	api := newTestAPI(t)

	rr := postJSON(t, api.Handler(), "/login", map[string]any{
		"username": "jdoe",
		"password": testPassword,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d", rr.Code)
	}
	var first loginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	req.Header.Set(authHeader, bearer+first.Token)
	rr2 := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr2, req)
	if rr2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr2.Code, rr2.Body.String())
	}
	var second loginResponse
	if err := json.Unmarshal(rr2.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}
	if second.Token == "" || second.Username != "jdoe" {
		t.Fatalf("unexpected refresh response: %+v", second)
	}
	if _, ok := second.Commands["aws"]; !ok {
		t.Fatal("refresh must return the catalog view")
	}
}

func TestRefreshMissingToken(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRefreshGarbageToken(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	req.Header.Set(authHeader, bearer+"garbage")
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestReadyWithoutDB(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestUnknownPathIs404(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
