// Package catalog models the command tree produced by the external module
// discovery step. Nodes are a tagged union of module, group and command; the
// authorization layer only inspects node kind and child membership, so the
// route/handler payload carried on command leaves is preserved untouched.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// Kind discriminates catalog nodes.
type Kind string

const (
	KindModule  Kind = "module"
	KindGroup   Kind = "group"
	KindCommand Kind = "command"
)

// RootMountPoint is the catalog key for commands not namespaced under any
// installed tool collection. Policy documents address it by the reserved
// module name "m3admin".
const RootMountPoint = "/"

// Node is one catalog entry. Module and group nodes carry children in Body;
// command leaves carry the opaque discovery payload in Spec.
type Node struct {
	Kind Kind
	Body map[string]*Node
	Spec json.RawMessage
}

// Tree maps mount names to module nodes.
type Tree map[string]*Node

// Group constructs a group node. Intended for fixtures and tests.
func Group(body map[string]*Node) *Node {
	return &Node{Kind: KindGroup, Body: body}
}

// Command constructs a command leaf. Intended for fixtures and tests.
func Command() *Node {
	return &Node{Kind: KindCommand}
}

// Module constructs a module node. Intended for fixtures and tests.
func Module(body map[string]*Node) *Node {
	return &Node{Kind: KindModule, Body: body}
}

// UnmarshalJSON decodes a discovery node. Objects tagged "group" (or
// "module") with a "body" collection become containers; anything else is a
// command leaf whose raw payload is kept verbatim.
func (n *Node) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string           `json:"type"`
		Body map[string]*Node `json:"body"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	switch probe.Type {
	case "module":
		n.Kind = KindModule
		n.Body = probe.Body
	case "group":
		n.Kind = KindGroup
		n.Body = probe.Body
	default:
		n.Kind = KindCommand
		n.Spec = append(json.RawMessage(nil), data...)
	}
	if n.Kind != KindCommand && n.Body == nil {
		n.Body = map[string]*Node{}
	}
	return nil
}

// MarshalJSON renders the node back into the discovery wire shape.
func (n *Node) MarshalJSON() ([]byte, error) {
	if n.Kind == KindCommand {
		if len(n.Spec) == 0 {
			return json.Marshal(map[string]any{"type": string(KindCommand)})
		}
		return n.Spec, nil
	}
	return json.Marshal(map[string]any{
		"type": string(n.Kind),
		"body": n.Body,
	})
}

// UnmarshalJSON decodes a full catalog. Top-level entries are modules even
// when the discovery output omits the type tag.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	tree := make(Tree, len(raw))
	for name, entry := range raw {
		var probe struct {
			Body map[string]*Node `json:"body"`
		}
		if err := json.Unmarshal(entry, &probe); err != nil {
			return fmt.Errorf("module %s: %w", name, err)
		}
		if probe.Body == nil {
			probe.Body = map[string]*Node{}
		}
		tree[name] = &Node{Kind: KindModule, Body: probe.Body}
	}
	*t = tree
	return nil
}

// Load reads the discovery collaborator's commands base file. A missing file
// yields an empty catalog: the server can start before any module is
// installed.
func Load(path string) (Tree, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Tree{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var tree Tree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", path, err)
	}
	return tree, nil
}

// Commands returns the total number of command leaves in the tree.
func (t Tree) Commands() int {
	total := 0
	for _, mod := range t {
		total += mod.commands()
	}
	return total
}

func (n *Node) commands() int {
	if n.Kind == KindCommand {
		return 1
	}
	total := 0
	for _, child := range n.Body {
		total += child.commands()
	}
	return total
}
