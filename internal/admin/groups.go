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

// AddGroup creates an activated group. Policies must already exist and
// be activated.
func (s *Service) AddGroup(ctx context.Context, name string, policies []string) (Result, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Result{}, auth.BadRequest("Group name is empty")
	}
	existing, err := s.store.Groups().Get(ctx, name)
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return Result{}, fmt.Errorf("admin: load group: %w", err)
	}
	if existing != nil {
		if existing.State == auth.StateRemoved {
			return Result{}, auth.BadRequest(
				fmt.Sprintf("Group '%s' is marked as removed, please use another name", name))
		}
		return Result{}, auth.BadRequest(fmt.Sprintf("Group '%s' already exists", name))
	}
	if err := s.requireActivePolicies(ctx, policies); err != nil {
		return Result{}, err
	}

	group := &auth.Group{
		GroupName:    name,
		Policies:     dedupe(policies),
		State:        auth.StateActivated,
		CreationDate: s.timestamp(),
	}
	sum, err := s.hasher.Sum(group)
	if err != nil {
		return Result{}, fmt.Errorf("admin: hash group: %w", err)
	}
	group.Hash = sum
	if err := s.store.Groups().Save(ctx, group); err != nil {
		return Result{}, fmt.Errorf("admin: save group: %w", err)
	}
	obs.Log(map[string]any{"event": "admin.group.added", "group": name})
	return Result{Message: fmt.Sprintf("Group '%s' was added", name)}, nil
}

// DeleteGroup marks a group removed. Users still referencing the group
// are reported as warnings; their logins will fail closed until the
// membership is cleaned up.
func (s *Service) DeleteGroup(ctx context.Context, name string, confirmed bool) (Result, error) {
	group, err := s.loadGroup(ctx, name)
	if err != nil {
		return Result{}, err
	}
	if group.State == auth.StateRemoved {
		return Result{}, auth.BadRequest(fmt.Sprintf("Group '%s' is already removed", group.GroupName))
	}
	guard, ok := s.guardIntegrity(group, group.Hash, "Group", group.GroupName, confirmed)
	if !ok {
		return guard, nil
	}

	warnings := guard.Warnings
	users, err := s.store.Users().Scan(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("admin: scan users: %w", err)
	}
	for _, u := range users {
		if u.State == auth.StateRemoved {
			continue
		}
		for _, g := range u.Groups {
			if g == group.GroupName {
				warnings = append(warnings, fmt.Sprintf("User '%s' still references group '%s'", u.Username, group.GroupName))
				break
			}
		}
	}

	group.State = auth.StateRemoved
	if err := s.saveGroup(ctx, group); err != nil {
		return Result{}, err
	}
	obs.Log(map[string]any{"event": "admin.group.removed", "group": group.GroupName})
	return Result{
		Message:  fmt.Sprintf("Group '%s' was removed", group.GroupName),
		Warnings: warnings,
	}, nil
}

// ManageGroupPolicies adds and removes policy attachments in one
// mutation. Policies being added must exist and be activated.
func (s *Service) ManageGroupPolicies(ctx context.Context, name string, add, remove []string, confirmed bool) (Result, error) {
	group, err := s.loadGroup(ctx, name)
	if err != nil {
		return Result{}, err
	}
	if group.State == auth.StateRemoved {
		return Result{}, auth.BadRequest(fmt.Sprintf("Group '%s' is removed", group.GroupName))
	}
	if err := s.requireActivePolicies(ctx, add); err != nil {
		return Result{}, err
	}
	guard, ok := s.guardIntegrity(group, group.Hash, "Group", group.GroupName, confirmed)
	if !ok {
		return guard, nil
	}

	warnings := guard.Warnings
	attached := map[string]bool{}
	for _, p := range group.Policies {
		attached[p] = true
	}
	for _, p := range add {
		if attached[p] {
			warnings = append(warnings, fmt.Sprintf("Policy '%s' is already attached to group '%s'", p, group.GroupName))
			continue
		}
		attached[p] = true
	}
	for _, p := range remove {
		if !attached[p] {
			warnings = append(warnings, fmt.Sprintf("Policy '%s' is not attached to group '%s'", p, group.GroupName))
			continue
		}
		delete(attached, p)
	}
	policies := make([]string, 0, len(attached))
	for p := range attached {
		policies = append(policies, p)
	}
	sort.Strings(policies)
	group.Policies = policies

	if err := s.saveGroup(ctx, group); err != nil {
		return Result{}, err
	}
	obs.Log(map[string]any{
		"event": "admin.group.policies_changed", "group": group.GroupName, "policies": policies,
	})
	return Result{
		Message:  fmt.Sprintf("Policies for group '%s' were updated", group.GroupName),
		Warnings: warnings,
	}, nil
}

// GroupView is a group description for administrative listings.
type GroupView struct {
	GroupName            string   `json:"group_name"`
	Policies             []string `json:"policies"`
	State                string   `json:"state"`
	CreationDate         string   `json:"creation_date"`
	LastModificationDate string   `json:"last_modification_date,omitempty"`
	Compromised          bool     `json:"compromised,omitempty"`
}

// DescribeGroups lists every group record with an integrity verdict.
func (s *Service) DescribeGroups(ctx context.Context) ([]GroupView, error) {
	groups, err := s.store.Groups().Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin: scan groups: %w", err)
	}
	views := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		views = append(views, GroupView{
			GroupName:            g.GroupName,
			Policies:             g.Policies,
			State:                g.State,
			CreationDate:         g.CreationDate,
			LastModificationDate: g.LastModificationDate,
			Compromised:          !s.hasher.Verify(g, g.Hash),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].GroupName < views[j].GroupName })
	return views, nil
}

func (s *Service) loadGroup(ctx context.Context, name string) (*auth.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, auth.BadRequest("Group name is empty")
	}
	group, err := s.store.Groups().Get(ctx, name)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, auth.BadRequest(fmt.Sprintf("Group '%s' does not exist", name))
	}
	if err != nil {
		return nil, fmt.Errorf("admin: load group: %w", err)
	}
	return group, nil
}

func (s *Service) saveGroup(ctx context.Context, group *auth.Group) error {
	group.LastModificationDate = s.timestamp()
	sum, err := s.hasher.Sum(group)
	if err != nil {
		return fmt.Errorf("admin: hash group: %w", err)
	}
	group.Hash = sum
	if err := s.store.Groups().Save(ctx, group); err != nil {
		return fmt.Errorf("admin: save group: %w", err)
	}
	return nil
}

func (s *Service) requireActivePolicies(ctx context.Context, names []string) error {
	for _, name := range names {
		item, err := s.store.Policies().Get(ctx, name)
		if errors.Is(err, auth.ErrNotFound) {
			return auth.BadRequest(fmt.Sprintf("Policy '%s' does not exist", name))
		}
		if err != nil {
			return fmt.Errorf("admin: load policy: %w", err)
		}
		if item.State != auth.StateActivated {
			return auth.BadRequest(fmt.Sprintf("Policy '%s' is not activated", name))
		}
	}
	return nil
}
