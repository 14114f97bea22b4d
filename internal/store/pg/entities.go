package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"toolgate.org/internal/auth"
	"toolgate.org/internal/policy"
)

type userStore struct {
	db *sql.DB
}

func (s userStore) Get(ctx context.Context, username string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select username, groups, password, state, state_reason,
		       creation_date, last_modification_date, meta, hash
		from modular_user where username=$1
	`, username)
	return scanUser(row)
}

func (s userStore) Save(ctx context.Context, user *auth.User) error {
	groups, err := json.Marshal(user.Groups)
	if err != nil {
		return fmt.Errorf("pg: encode groups: %w", err)
	}
	meta, err := json.Marshal(user.Meta)
	if err != nil {
		return fmt.Errorf("pg: encode meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into modular_user(username, groups, password, state, state_reason,
		                         creation_date, last_modification_date, meta, hash)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		on conflict (username) do update set
			groups=excluded.groups, password=excluded.password,
			state=excluded.state, state_reason=excluded.state_reason,
			last_modification_date=excluded.last_modification_date,
			meta=excluded.meta, hash=excluded.hash
	`, user.Username, groups, user.Password, user.State, user.StateReason,
		user.CreationDate, user.LastModificationDate, meta, user.Hash)
	return err
}

func (s userStore) Scan(ctx context.Context) ([]*auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select username, groups, password, state, state_reason,
		       creation_date, last_modification_date, meta, hash
		from modular_user order by username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

func (s userStore) Delete(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `delete from modular_user where username=$1`, username)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanUser(row scannable) (*auth.User, error) {
	var user auth.User
	var groups, meta []byte
	err := row.Scan(&user.Username, &groups, &user.Password, &user.State,
		&user.StateReason, &user.CreationDate, &user.LastModificationDate,
		&meta, &user.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(groups) > 0 {
		if err := json.Unmarshal(groups, &user.Groups); err != nil {
			return nil, fmt.Errorf("pg: decode groups: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &user.Meta); err != nil {
			return nil, fmt.Errorf("pg: decode meta: %w", err)
		}
	}
	return &user, nil
}

type groupStore struct {
	db *sql.DB
}

func (s groupStore) Get(ctx context.Context, name string) (*auth.Group, error) {
	row := s.db.QueryRowContext(ctx, `
		select group_name, policies, state, creation_date, last_modification_date, hash
		from modular_group where group_name=$1
	`, name)
	return scanGroup(row)
}

func (s groupStore) Save(ctx context.Context, group *auth.Group) error {
	policies, err := json.Marshal(group.Policies)
	if err != nil {
		return fmt.Errorf("pg: encode policies: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into modular_group(group_name, policies, state,
		                          creation_date, last_modification_date, hash)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (group_name) do update set
			policies=excluded.policies, state=excluded.state,
			last_modification_date=excluded.last_modification_date,
			hash=excluded.hash
	`, group.GroupName, policies, group.State,
		group.CreationDate, group.LastModificationDate, group.Hash)
	return err
}

func (s groupStore) Scan(ctx context.Context) ([]*auth.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		select group_name, policies, state, creation_date, last_modification_date, hash
		from modular_group order by group_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, group)
	}
	return out, rows.Err()
}

func (s groupStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `delete from modular_group where group_name=$1`, name)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func scanGroup(row scannable) (*auth.Group, error) {
	var group auth.Group
	var policies []byte
	err := row.Scan(&group.GroupName, &policies, &group.State,
		&group.CreationDate, &group.LastModificationDate, &group.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(policies) > 0 {
		if err := json.Unmarshal(policies, &group.Policies); err != nil {
			return nil, fmt.Errorf("pg: decode policies: %w", err)
		}
	}
	return &group, nil
}

type policyStore struct {
	db *sql.DB
}

func (s policyStore) Get(ctx context.Context, name string) (*auth.Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		select policy_name, content, state, creation_date, last_modification_date, hash
		from modular_policy where policy_name=$1
	`, name)
	return scanPolicy(row)
}

func (s policyStore) Save(ctx context.Context, item *auth.Policy) error {
	content, err := json.Marshal(item.Content)
	if err != nil {
		return fmt.Errorf("pg: encode content: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into modular_policy(policy_name, content, state,
		                           creation_date, last_modification_date, hash)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (policy_name) do update set
			content=excluded.content, state=excluded.state,
			last_modification_date=excluded.last_modification_date,
			hash=excluded.hash
	`, item.PolicyName, content, item.State,
		item.CreationDate, item.LastModificationDate, item.Hash)
	return err
}

func (s policyStore) Scan(ctx context.Context) ([]*auth.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		select policy_name, content, state, creation_date, last_modification_date, hash
		from modular_policy order by policy_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Policy
	for rows.Next() {
		item, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s policyStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `delete from modular_policy where policy_name=$1`, name)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func scanPolicy(row scannable) (*auth.Policy, error) {
	var item auth.Policy
	var content []byte
	err := row.Scan(&item.PolicyName, &content, &item.State,
		&item.CreationDate, &item.LastModificationDate, &item.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(content) > 0 {
		var statements []policy.Statement
		if err := json.Unmarshal(content, &statements); err != nil {
			return nil, fmt.Errorf("pg: decode content: %w", err)
		}
		item.Content = statements
	}
	return &item, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
