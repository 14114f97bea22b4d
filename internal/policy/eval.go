package policy

import (
	"strings"

	"toolgate.org/internal/catalog"
)

// ruleSet holds the fully-qualified resource keys of one effect. Keys are
// formed as "module@resource"; a statement with Module "*" acts as a blanket
// over every module regardless of its resources.
type ruleSet struct {
	keys    map[string]struct{}
	blanket bool
}

func (r ruleSet) has(key string) bool {
	_, ok := r.keys[key]
	return ok
}

func (r ruleSet) hasPrefix(prefix string) bool {
	for key := range r.keys {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func classify(statements []Statement) (allow, deny ruleSet) {
	allow = ruleSet{keys: map[string]struct{}{}}
	deny = ruleSet{keys: map[string]struct{}{}}
	for _, st := range statements {
		set := &allow
		if st.Effect == EffectDeny {
			set = &deny
		}
		if st.Module == "*" {
			set.blanket = true
		}
		for _, res := range st.Resources {
			set.keys[st.Module+"@"+res] = struct{}{}
		}
	}
	return allow, deny
}

// moduleKey resolves the policy-side name of a catalog mount: the root mount
// point is addressed by the reserved alias.
func moduleKey(mount string) string {
	if mount == catalog.RootMountPoint {
		return RootModuleAlias
	}
	return mount
}

// Evaluate prunes the catalog down to what the aggregated statements permit.
// An explicit Deny removes a subtree at any granularity regardless of Allow
// rules; whatever survives must then be covered by an Allow rule — exact
// command, or an enclosing wildcard — or it is omitted (implicit deny).
//
// The result is built bottom-up and never aliases mutable state with the
// input: container nodes are fresh, untouched subtrees are shared read-only.
// Evaluate is pure and safe for concurrent use.
func Evaluate(tree catalog.Tree, statements []Statement) catalog.Tree {
	allow, deny := classify(statements)
	return filterAllow(filterDeny(tree, deny), allow)
}

// filterDeny removes every subtree matched by a Deny key. Nothing is pruned
// on the basis of missing Allow coverage here: everything not explicitly
// denied survives to the allow pass.
func filterDeny(tree catalog.Tree, deny ruleSet) catalog.Tree {
	if deny.blanket {
		return catalog.Tree{}
	}
	if len(deny.keys) == 0 {
		return tree
	}
	out := make(catalog.Tree, len(tree))
	for mount, mod := range tree {
		m := moduleKey(mount)
		if deny.has(m + "@*") {
			continue
		}
		node := &catalog.Node{Kind: mod.Kind, Body: make(map[string]*catalog.Node, len(mod.Body))}
		for name, child := range mod.Body {
			if child.Kind == catalog.KindGroup {
				if grp := denyFilterGroup(m, name, child, deny); grp != nil {
					node.Body[name] = grp
				}
			} else if !deny.has(m + "@" + name) {
				node.Body[name] = child
			}
		}
		out[mount] = node
	}
	return out
}

func denyFilterGroup(m, group string, node *catalog.Node, deny ruleSet) *catalog.Node {
	if deny.has(m + "@" + group + ":*") {
		return nil
	}
	grp := &catalog.Node{Kind: node.Kind, Body: make(map[string]*catalog.Node, len(node.Body))}
	for name, child := range node.Body {
		if child.Kind == catalog.KindGroup {
			subgroup := name
			if deny.has(m + "@" + group + "/" + subgroup + ":*") {
				continue
			}
			sub := &catalog.Node{Kind: child.Kind, Body: make(map[string]*catalog.Node, len(child.Body))}
			for cmd, leaf := range child.Body {
				if !deny.has(m + "@" + group + "/" + subgroup + ":" + cmd) {
					sub.Body[cmd] = leaf
				}
			}
			grp.Body[subgroup] = sub
		} else if !deny.has(m + "@" + group + ":" + name) {
			grp.Body[name] = child
		}
	}
	return grp
}

// filterAllow keeps a node when its entire scope is allowed, recurses when a
// narrower allow key lies under the node's prefix, and drops it otherwise.
// Command leaves require an exact key.
func filterAllow(tree catalog.Tree, allow ruleSet) catalog.Tree {
	if allow.blanket {
		return tree
	}
	out := make(catalog.Tree, len(tree))
	for mount, mod := range tree {
		m := moduleKey(mount)
		if allow.has(m + "@*") {
			out[mount] = mod
			continue
		}
		if !allow.hasPrefix(m + "@") {
			continue
		}
		node := &catalog.Node{Kind: mod.Kind, Body: make(map[string]*catalog.Node, len(mod.Body))}
		for name, child := range mod.Body {
			if child.Kind == catalog.KindGroup {
				if grp := allowFilterGroup(m, name, child, allow); grp != nil {
					node.Body[name] = grp
				}
			} else if allow.has(m + "@" + name) {
				node.Body[name] = child
			}
		}
		out[mount] = node
	}
	return out
}

func allowFilterGroup(m, group string, node *catalog.Node, allow ruleSet) *catalog.Node {
	if allow.has(m + "@" + group + ":*") {
		return node
	}
	if !allow.hasPrefix(m + "@" + group) {
		return nil
	}
	grp := &catalog.Node{Kind: node.Kind, Body: make(map[string]*catalog.Node, len(node.Body))}
	for name, child := range node.Body {
		if child.Kind == catalog.KindGroup {
			subgroup := name
			if allow.has(m + "@" + group + "/" + subgroup + ":*") {
				grp.Body[subgroup] = child
				continue
			}
			if !allow.hasPrefix(m + "@" + group + "/" + subgroup) {
				continue
			}
			sub := &catalog.Node{Kind: child.Kind, Body: make(map[string]*catalog.Node, len(child.Body))}
			for cmd, leaf := range child.Body {
				if allow.has(m + "@" + group + "/" + subgroup + ":" + cmd) {
					sub.Body[cmd] = leaf
				}
			}
			grp.Body[subgroup] = sub
		} else if allow.has(m + "@" + group + ":" + name) {
			grp.Body[name] = child
		}
	}
	return grp
}
