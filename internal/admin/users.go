package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"toolgate.org/internal/auth"
	"toolgate.org/internal/obs"
)

// AddUserParams describes a new user. Groups must already exist and be
// activated.
type AddUserParams struct {
	Username string
	Password string
	Groups   []string
}

// AddUser creates an activated user with a keyed password digest.
func (s *Service) AddUser(ctx context.Context, p AddUserParams) (Result, error) {
	username := strings.TrimSpace(p.Username)
	if username == "" {
		return Result{}, auth.BadRequest("Username is empty")
	}
	existing, err := s.store.Users().Get(ctx, username)
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return Result{}, fmt.Errorf("admin: load user: %w", err)
	}
	if existing != nil {
		if existing.State == auth.StateRemoved {
			return Result{}, auth.BadRequest(
				fmt.Sprintf("User '%s' is marked as removed, please use another name", username))
		}
		return Result{}, auth.BadRequest(fmt.Sprintf("User '%s' already exists", username))
	}
	if err := ValidatePassword(p.Password); err != nil {
		return Result{}, err
	}
	if err := s.requireActiveGroups(ctx, p.Groups); err != nil {
		return Result{}, err
	}

	now := s.timestamp()
	user := &auth.User{
		Username:     username,
		Groups:       dedupe(p.Groups),
		Password:     s.hasher.SecureString(p.Password),
		State:        auth.StateActivated,
		CreationDate: now,
	}
	sum, err := s.hasher.Sum(user)
	if err != nil {
		return Result{}, fmt.Errorf("admin: hash user: %w", err)
	}
	user.Hash = sum
	if err := s.store.Users().Save(ctx, user); err != nil {
		return Result{}, fmt.Errorf("admin: save user: %w", err)
	}
	obs.Log(map[string]any{"event": "admin.user.added", "username": username})
	return Result{Message: fmt.Sprintf("User '%s' was added", username)}, nil
}

// DeleteUser marks a user removed. The state is terminal: a removed user
// never authenticates again and the name is not reusable.
func (s *Service) DeleteUser(ctx context.Context, username string, confirmed bool) (Result, error) {
	user, err := s.loadUser(ctx, username)
	if err != nil {
		return Result{}, err
	}
	if user.State == auth.StateRemoved {
		return Result{}, auth.BadRequest(fmt.Sprintf("User '%s' is already removed", user.Username))
	}
	guard, ok := s.guardIntegrity(user, user.Hash, "User", user.Username, confirmed)
	if !ok {
		return guard, nil
	}
	user.State = auth.StateRemoved
	user.StateReason = "deleted by administrator"
	if err := s.saveUser(ctx, user); err != nil {
		return Result{}, err
	}
	obs.Log(map[string]any{"event": "admin.user.removed", "username": user.Username})
	return Result{
		Message:  fmt.Sprintf("User '%s' was removed", user.Username),
		Warnings: guard.Warnings,
	}, nil
}

// BlockUser suspends a user with a recorded reason. Blocked is reversible.
func (s *Service) BlockUser(ctx context.Context, username, reason string, confirmed bool) (Result, error) {
	if strings.TrimSpace(reason) == "" {
		return Result{}, auth.BadRequest("Block reason is required")
	}
	user, err := s.loadUser(ctx, username)
	if err != nil {
		return Result{}, err
	}
	switch user.State {
	case auth.StateRemoved:
		return Result{}, auth.BadRequest(fmt.Sprintf("User '%s' is removed and cannot be blocked", user.Username))
	case auth.StateBlocked:
		return Result{}, auth.BadRequest(fmt.Sprintf("User '%s' is already blocked", user.Username))
	}
	guard, ok := s.guardIntegrity(user, user.Hash, "User", user.Username, confirmed)
	if !ok {
		return guard, nil
	}
	user.State = auth.StateBlocked
	user.StateReason = reason
	if err := s.saveUser(ctx, user); err != nil {
		return Result{}, err
	}
	obs.Log(map[string]any{
		"event": "admin.user.blocked", "username": user.Username, "reason": reason,
	})
	return Result{
		Message:  fmt.Sprintf("User '%s' was blocked", user.Username),
		Warnings: guard.Warnings,
	}, nil
}

// UnblockUser reactivates a blocked user and clears the recorded reason.
func (s *Service) UnblockUser(ctx context.Context, username string, confirmed bool) (Result, error) {
	user, err := s.loadUser(ctx, username)
	if err != nil {
		return Result{}, err
	}
	if user.State != auth.StateBlocked {
		return Result{}, auth.BadRequest(fmt.Sprintf("User '%s' is not blocked", user.Username))
	}
	guard, ok := s.guardIntegrity(user, user.Hash, "User", user.Username, confirmed)
	if !ok {
		return guard, nil
	}
	user.State = auth.StateActivated
	user.StateReason = ""
	if err := s.saveUser(ctx, user); err != nil {
		return Result{}, err
	}
	obs.Log(map[string]any{"event": "admin.user.unblocked", "username": user.Username})
	return Result{
		Message:  fmt.Sprintf("User '%s' was unblocked", user.Username),
		Warnings: guard.Warnings,
	}, nil
}

// ChangePassword replaces the stored password digest.
func (s *Service) ChangePassword(ctx context.Context, username, password string, confirmed bool) (Result, error) {
	if err := ValidatePassword(password); err != nil {
		return Result{}, err
	}
	user, err := s.loadUser(ctx, username)
	if err != nil {
		return Result{}, err
	}
	if user.State == auth.StateRemoved {
		return Result{}, auth.BadRequest(fmt.Sprintf("User '%s' is removed", user.Username))
	}
	guard, ok := s.guardIntegrity(user, user.Hash, "User", user.Username, confirmed)
	if !ok {
		return guard, nil
	}
	user.Password = s.hasher.SecureString(password)
	if err := s.saveUser(ctx, user); err != nil {
		return Result{}, err
	}
	obs.Log(map[string]any{"event": "admin.user.password_changed", "username": user.Username})
	return Result{
		Message:  fmt.Sprintf("Password for user '%s' was changed", user.Username),
		Warnings: guard.Warnings,
	}, nil
}

// ManageUserGroups adds and removes group memberships in one mutation.
// Groups being added must exist and be activated; removing a group the
// user is not in yields a warning, not an error.
func (s *Service) ManageUserGroups(ctx context.Context, username string, add, remove []string, confirmed bool) (Result, error) {
	user, err := s.loadUser(ctx, username)
	if err != nil {
		return Result{}, err
	}
	if user.State == auth.StateRemoved {
		return Result{}, auth.BadRequest(fmt.Sprintf("User '%s' is removed", user.Username))
	}
	if err := s.requireActiveGroups(ctx, add); err != nil {
		return Result{}, err
	}
	guard, ok := s.guardIntegrity(user, user.Hash, "User", user.Username, confirmed)
	if !ok {
		return guard, nil
	}

	warnings := guard.Warnings
	member := map[string]bool{}
	for _, g := range user.Groups {
		member[g] = true
	}
	for _, g := range add {
		if member[g] {
			warnings = append(warnings, fmt.Sprintf("User '%s' is already in group '%s'", user.Username, g))
			continue
		}
		member[g] = true
	}
	for _, g := range remove {
		if !member[g] {
			warnings = append(warnings, fmt.Sprintf("User '%s' is not in group '%s'", user.Username, g))
			continue
		}
		delete(member, g)
	}
	groups := make([]string, 0, len(member))
	for g := range member {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	user.Groups = groups

	if err := s.saveUser(ctx, user); err != nil {
		return Result{}, err
	}
	obs.Log(map[string]any{
		"event": "admin.user.groups_changed", "username": user.Username, "groups": groups,
	})
	return Result{
		Message:  fmt.Sprintf("Groups for user '%s' were updated", user.Username),
		Warnings: warnings,
	}, nil
}

// SetAllowedValues replaces the per-parameter whitelist on the user's
// metadata. An empty map clears the overlay.
func (s *Service) SetAllowedValues(ctx context.Context, username string, values map[string][]string, confirmed bool) (Result, error) {
	user, err := s.loadUser(ctx, username)
	if err != nil {
		return Result{}, err
	}
	if user.State == auth.StateRemoved {
		return Result{}, auth.BadRequest(fmt.Sprintf("User '%s' is removed", user.Username))
	}
	guard, ok := s.guardIntegrity(user, user.Hash, "User", user.Username, confirmed)
	if !ok {
		return guard, nil
	}
	if len(values) == 0 {
		user.Meta.AllowedValues = nil
	} else {
		user.Meta.AllowedValues = values
	}
	if err := s.saveUser(ctx, user); err != nil {
		return Result{}, err
	}
	obs.Log(map[string]any{"event": "admin.user.allowed_values_set", "username": user.Username})
	return Result{
		Message:  fmt.Sprintf("Allowed values for user '%s' were updated", user.Username),
		Warnings: guard.Warnings,
	}, nil
}

// UserView is a user description for administrative listings. The
// password digest is never exposed.
type UserView struct {
	Username             string              `json:"username"`
	Groups               []string            `json:"groups"`
	State                string              `json:"state"`
	StateReason          string              `json:"state_reason,omitempty"`
	CreationDate         string              `json:"creation_date"`
	LastModificationDate string              `json:"last_modification_date,omitempty"`
	AllowedValues        map[string][]string `json:"allowed_values,omitempty"`
	Compromised          bool                `json:"compromised,omitempty"`
}

// DescribeUsers lists every user record with an integrity verdict.
func (s *Service) DescribeUsers(ctx context.Context) ([]UserView, error) {
	users, err := s.store.Users().Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin: scan users: %w", err)
	}
	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, UserView{
			Username:             u.Username,
			Groups:               u.Groups,
			State:                u.State,
			StateReason:          u.StateReason,
			CreationDate:         u.CreationDate,
			LastModificationDate: u.LastModificationDate,
			AllowedValues:        u.Meta.AllowedValues,
			Compromised:          !s.hasher.Verify(u, u.Hash),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Username < views[j].Username })
	return views, nil
}

func (s *Service) loadUser(ctx context.Context, username string) (*auth.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, auth.BadRequest("Username is empty")
	}
	user, err := s.store.Users().Get(ctx, username)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, auth.BadRequest(fmt.Sprintf("User '%s' does not exist", username))
	}
	if err != nil {
		return nil, fmt.Errorf("admin: load user: %w", err)
	}
	return user, nil
}

// saveUser stamps the modification date, recomputes the hash and saves.
func (s *Service) saveUser(ctx context.Context, user *auth.User) error {
	user.LastModificationDate = s.timestamp()
	sum, err := s.hasher.Sum(user)
	if err != nil {
		return fmt.Errorf("admin: hash user: %w", err)
	}
	user.Hash = sum
	if err := s.store.Users().Save(ctx, user); err != nil {
		return fmt.Errorf("admin: save user: %w", err)
	}
	return nil
}

func (s *Service) requireActiveGroups(ctx context.Context, names []string) error {
	for _, name := range names {
		group, err := s.store.Groups().Get(ctx, name)
		if errors.Is(err, auth.ErrNotFound) {
			return auth.BadRequest(fmt.Sprintf("Group '%s' does not exist", name))
		}
		if err != nil {
			return fmt.Errorf("admin: load group: %w", err)
		}
		if group.State != auth.StateActivated {
			return auth.BadRequest(fmt.Sprintf("Group '%s' is not activated", name))
		}
	}
	return nil
}

func dedupe(items []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}
