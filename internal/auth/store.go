package auth

import "context"

// Store describes the persistence operations required by the authorization
// subsystem. Implementations own the records; this package only reads them
// during authentication, and the administrative paths write through the same
// interfaces.
type Store interface {
	Users() UserStore
	Groups() GroupStore
	Policies() PolicyStore
}

// UserStore manages user entities keyed by username.
type UserStore interface {
	Get(ctx context.Context, username string) (*User, error)
	Save(ctx context.Context, user *User) error
	Scan(ctx context.Context) ([]*User, error)
	Delete(ctx context.Context, username string) error
}

// GroupStore manages group entities keyed by group name.
type GroupStore interface {
	Get(ctx context.Context, name string) (*Group, error)
	Save(ctx context.Context, group *Group) error
	Scan(ctx context.Context) ([]*Group, error)
	Delete(ctx context.Context, name string) error
}

// PolicyStore manages policy entities keyed by policy name.
type PolicyStore interface {
	Get(ctx context.Context, name string) (*Policy, error)
	Save(ctx context.Context, policy *Policy) error
	Scan(ctx context.Context) ([]*Policy, error)
	Delete(ctx context.Context, name string) error
}
