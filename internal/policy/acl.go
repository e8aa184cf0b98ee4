// Package policy evaluates declarative capability grants against request
// paths. Evaluation is a pure function over an immutable ACL, so the
// precedence rules are exhaustively unit-testable.
package policy

import (
	"strings"

	"github.com/jmelchers/arvon/internal/core"
)

// ACL is the compiled form of a policy set. Build one with NewACL and
// query it with Allowed; it holds no hidden state.
type ACL struct {
	rules []compiledRule
}

type compiledRule struct {
	prefix      string // pattern without a trailing '*'
	exact       bool   // no glob: path must equal prefix
	specificity int
	caps        map[core.Capability]struct{}
	deny        bool
}

// NewACL compiles the given policies. Rules from all policies are
// evaluated together; the policy a rule came from carries no weight.
func NewACL(policies []core.Policy) *ACL {
	acl := &ACL{}
	for _, p := range policies {
		for _, rule := range p.Rules {
			cr := compiledRule{
				prefix: rule.Path,
				exact:  true,
				caps:   make(map[core.Capability]struct{}, len(rule.Capabilities)),
			}
			if strings.HasSuffix(rule.Path, "*") {
				cr.prefix = strings.TrimSuffix(rule.Path, "*")
				cr.exact = false
			}
			// exact patterns outrank a glob with the same prefix length
			cr.specificity = len(cr.prefix) * 2
			if cr.exact {
				cr.specificity++
			}
			for _, c := range rule.Capabilities {
				if c == core.CapDeny {
					cr.deny = true
					continue
				}
				cr.caps[c] = struct{}{}
			}
			acl.rules = append(acl.rules, cr)
		}
	}
	return acl
}

func (r compiledRule) matches(path string) bool {
	if r.exact {
		return path == r.prefix
	}
	return strings.HasPrefix(path, r.prefix)
}

// Allowed reports whether the capability is permitted on the path.
//
// All matching non-deny rules contribute the union of their capabilities.
// A matching deny rule subtracts the capability when its pattern is at
// least as specific as the most specific grant: explicit deny wins, but a
// broad deny does not override a narrower, more specific grant.
func (a *ACL) Allowed(path string, capability core.Capability) bool {
	grantSpec := -1
	denySpec := -1

	for _, rule := range a.rules {
		if !rule.matches(path) {
			continue
		}
		if rule.deny && rule.specificity > denySpec {
			denySpec = rule.specificity
		}
		if _, ok := rule.caps[capability]; ok && rule.specificity > grantSpec {
			grantSpec = rule.specificity
		}
	}

	if grantSpec < 0 {
		return false
	}
	return denySpec < grantSpec
}
