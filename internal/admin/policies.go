package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"toolgate.org/internal/auth"
	"toolgate.org/internal/obs"
	"toolgate.org/internal/policy"
)

// AddPolicy creates an activated policy. The statement list is validated
// before anything touches the store.
func (s *Service) AddPolicy(ctx context.Context, name string, content []policy.Statement) (Result, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Result{}, auth.BadRequest("Policy name is empty")
	}
	if err := policy.Validate(content); err != nil {
		return Result{}, auth.BadRequest(err.Error())
	}
	existing, err := s.store.Policies().Get(ctx, name)
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return Result{}, fmt.Errorf("admin: load policy: %w", err)
	}
	if existing != nil {
		if existing.State == auth.StateRemoved {
			return Result{}, auth.BadRequest(
				fmt.Sprintf("Policy '%s' is marked as removed, please use another name", name))
		}
		return Result{}, auth.BadRequest(fmt.Sprintf("Policy '%s' already exists", name))
	}

	item := &auth.Policy{
		PolicyName:   name,
		Content:      content,
		State:        auth.StateActivated,
		CreationDate: s.timestamp(),
	}
	sum, err := s.hasher.Sum(item)
	if err != nil {
		return Result{}, fmt.Errorf("admin: hash policy: %w", err)
	}
	item.Hash = sum
	if err := s.store.Policies().Save(ctx, item); err != nil {
		return Result{}, fmt.Errorf("admin: save policy: %w", err)
	}
	obs.Log(map[string]any{"event": "admin.policy.added", "policy": name})
	return Result{Message: fmt.Sprintf("Policy '%s' was added", name)}, nil
}

// UpdatePolicy replaces the statement list of an existing policy.
func (s *Service) UpdatePolicy(ctx context.Context, name string, content []policy.Statement, confirmed bool) (Result, error) {
	if err := policy.Validate(content); err != nil {
		return Result{}, auth.BadRequest(err.Error())
	}
	item, err := s.loadPolicy(ctx, name)
	if err != nil {
		return Result{}, err
	}
	if item.State == auth.StateRemoved {
		return Result{}, auth.BadRequest(fmt.Sprintf("Policy '%s' is removed", item.PolicyName))
	}
	guard, ok := s.guardIntegrity(item, item.Hash, "Policy", item.PolicyName, confirmed)
	if !ok {
		return guard, nil
	}
	item.Content = content
	if err := s.savePolicy(ctx, item); err != nil {
		return Result{}, err
	}
	obs.Log(map[string]any{"event": "admin.policy.updated", "policy": item.PolicyName})
	return Result{
		Message:  fmt.Sprintf("Policy '%s' was updated", item.PolicyName),
		Warnings: guard.Warnings,
	}, nil
}

// DeletePolicy marks a policy removed. Groups still referencing the
// policy are reported as warnings; their members' logins will fail
// closed until the attachment is cleaned up.
func (s *Service) DeletePolicy(ctx context.Context, name string, confirmed bool) (Result, error) {
	item, err := s.loadPolicy(ctx, name)
	if err != nil {
		return Result{}, err
	}
	if item.State == auth.StateRemoved {
		return Result{}, auth.BadRequest(fmt.Sprintf("Policy '%s' is already removed", item.PolicyName))
	}
	guard, ok := s.guardIntegrity(item, item.Hash, "Policy", item.PolicyName, confirmed)
	if !ok {
		return guard, nil
	}

	warnings := guard.Warnings
	groups, err := s.store.Groups().Scan(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("admin: scan groups: %w", err)
	}
	for _, g := range groups {
		if g.State == auth.StateRemoved {
			continue
		}
		for _, p := range g.Policies {
			if p == item.PolicyName {
				warnings = append(warnings, fmt.Sprintf("Group '%s' still references policy '%s'", g.GroupName, item.PolicyName))
				break
			}
		}
	}

	item.State = auth.StateRemoved
	if err := s.savePolicy(ctx, item); err != nil {
		return Result{}, err
	}
	obs.Log(map[string]any{"event": "admin.policy.removed", "policy": item.PolicyName})
	return Result{
		Message:  fmt.Sprintf("Policy '%s' was removed", item.PolicyName),
		Warnings: warnings,
	}, nil
}

// PolicyView is a policy description for administrative listings.
type PolicyView struct {
	PolicyName           string             `json:"policy_name"`
	Content              []policy.Statement `json:"policy_content"`
	State                string             `json:"state"`
	CreationDate         string             `json:"creation_date"`
	LastModificationDate string             `json:"last_modification_date,omitempty"`
	Compromised          bool               `json:"compromised,omitempty"`
}

// DescribePolicies lists every policy record with an integrity verdict.
func (s *Service) DescribePolicies(ctx context.Context) ([]PolicyView, error) {
	items, err := s.store.Policies().Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin: scan policies: %w", err)
	}
	views := make([]PolicyView, 0, len(items))
	for _, p := range items {
		views = append(views, PolicyView{
			PolicyName:           p.PolicyName,
			Content:              p.Content,
			State:                p.State,
			CreationDate:         p.CreationDate,
			LastModificationDate: p.LastModificationDate,
			Compromised:          !s.hasher.Verify(p, p.Hash),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].PolicyName < views[j].PolicyName })
	return views, nil
}

func (s *Service) loadPolicy(ctx context.Context, name string) (*auth.Policy, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, auth.BadRequest("Policy name is empty")
	}
	item, err := s.store.Policies().Get(ctx, name)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, auth.BadRequest(fmt.Sprintf("Policy '%s' does not exist", name))
	}
	if err != nil {
		return nil, fmt.Errorf("admin: load policy: %w", err)
	}
	return item, nil
}

func (s *Service) savePolicy(ctx context.Context, item *auth.Policy) error {
	item.LastModificationDate = s.timestamp()
	sum, err := s.hasher.Sum(item)
	if err != nil {
		return fmt.Errorf("admin: hash policy: %w", err)
	}
	item.Hash = sum
	if err := s.store.Policies().Save(ctx, item); err != nil {
		return fmt.Errorf("admin: save policy: %w", err)
	}
	return nil
}
