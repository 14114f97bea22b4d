// Package policy implements the statement grammar, document validation and
// the catalog pruning algorithm behind per-caller command visibility.
package policy

import "errors"

// Effect of a statement.
type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// RootModuleAlias is the reserved module name policy documents use to
// address the API's root mount point.
const RootModuleAlias = "m3admin"

// Statement is one rule inside a policy document. Resources are
// module-relative patterns:
//
//	*                    everything in the module
//	command              one root-level command
//	group:*              every command in a group
//	group:command        one command in a group
//	group/subgroup:*     every command in a subgroup
//	group/subgroup:cmd   one command in a subgroup
//
// A Module of "*" selects every module. Description is carried for operators
// and does not affect evaluation.
type Statement struct {
	Effect      Effect   `json:"Effect"`
	Description string   `json:"Description,omitempty"`
	Module      string   `json:"Module"`
	Resources   []string `json:"Resources"`
}

// ErrInvalidDocument marks structural validation failures; transport maps it
// to a bad-request response.
var ErrInvalidDocument = errors.New("policy: invalid document")
