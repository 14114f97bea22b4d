package auth

import "toolgate.org/internal/policy"

// Lifecycle states shared by User, Group and Policy entities. Only an
// activated entity with a valid integrity hash participates in
// authorization; every other combination fails closed.
const (
	StateActivated = "activated"
	StateBlocked   = "blocked"
	StateRemoved   = "removed"
)

// Meta namespaces carried on a user record.
const (
	MetaAllowedValues = "allowed_values"
	MetaAuxData       = "aux_data"
)

// UserMeta is the free-form per-user metadata. AllowedValues is a
// per-parameter whitelist overlay consumed downstream by request
// validation; AuxData is opaque.
type UserMeta struct {
	AllowedValues map[string][]string `json:"allowed_values,omitempty"`
	AuxData       map[string]any      `json:"aux_data,omitempty"`
}

func (m UserMeta) empty() bool {
	return len(m.AllowedValues) == 0 && len(m.AuxData) == 0
}

// User is an API caller. Password holds the keyed digest, never plaintext.
type User struct {
	Username             string
	Groups               []string
	Password             string
	State                string
	StateReason          string
	CreationDate         string
	LastModificationDate string
	Meta                 UserMeta
	Hash                 string
}

// HashPayload returns the canonical integrity payload: every public field
// except the stored hash. Map ordering is canonicalized by the hasher.
func (u *User) HashPayload() map[string]any {
	payload := map[string]any{
		"username":               u.Username,
		"groups":                 u.Groups,
		"password":               u.Password,
		"state":                  u.State,
		"state_reason":           u.StateReason,
		"creation_date":          u.CreationDate,
		"last_modification_date": u.LastModificationDate,
	}
	if !u.Meta.empty() {
		meta := map[string]any{}
		if len(u.Meta.AllowedValues) > 0 {
			meta[MetaAllowedValues] = u.Meta.AllowedValues
		}
		if len(u.Meta.AuxData) > 0 {
			meta[MetaAuxData] = u.Meta.AuxData
		}
		payload["meta"] = meta
	}
	return payload
}

// Group binds a set of policies under one name.
type Group struct {
	GroupName            string
	Policies             []string
	State                string
	CreationDate         string
	LastModificationDate string
	Hash                 string
}

func (g *Group) HashPayload() map[string]any {
	return map[string]any{
		"group_name":             g.GroupName,
		"policies":               g.Policies,
		"state":                  g.State,
		"creation_date":          g.CreationDate,
		"last_modification_date": g.LastModificationDate,
	}
}

// Policy stores an ordered statement list under one name.
type Policy struct {
	PolicyName           string
	Content              []policy.Statement
	State                string
	CreationDate         string
	LastModificationDate string
	Hash                 string
}

func (p *Policy) HashPayload() map[string]any {
	return map[string]any{
		"policy_name":            p.PolicyName,
		"policy_content":         p.Content,
		"state":                  p.State,
		"creation_date":          p.CreationDate,
		"last_modification_date": p.LastModificationDate,
	}
}
