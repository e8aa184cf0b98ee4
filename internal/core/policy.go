package core

import "fmt"

// Capability is a single permitted (or denied) operation on a path.
type Capability string

const (
	CapRead   Capability = "read"
	CapCreate Capability = "create"
	CapUpdate Capability = "update"
	CapDelete Capability = "delete"
	CapList   Capability = "list"

	// CapDeny vetoes every capability on a matching path.
	// An explicit deny always wins over grants.
	CapDeny Capability = "deny"
)

// ParseCapability validates a capability string.
func ParseCapability(s string) (Capability, error) {
	switch c := Capability(s); c {
	case CapRead, CapCreate, CapUpdate, CapDelete, CapList, CapDeny:
		return c, nil
	}
	return "", fmt.Errorf("unknown capability '%s'", s)
}

// PathRule grants (or denies) capabilities on a path pattern.
// A pattern is either an exact path or a prefix glob ending in '*'.
type PathRule struct {
	// Path is the pattern, e.g. "creds/readonly" or "sys/roles/*".
	Path string `yaml:"path" json:"path"`

	// Capabilities granted on matching paths. A list containing "deny"
	// subtracts every capability granted by equal-or-less-specific rules.
	Capabilities []Capability `yaml:"capabilities" json:"capabilities"`
}

// Policy is a named set of path rules.
type Policy struct {
	Name  string     `yaml:"name" json:"name"`
	Rules []PathRule `yaml:"rules" json:"rules"`
}

// Validate checks rule shape and capability names.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy name must not be empty")
	}
	if len(p.Rules) == 0 {
		return fmt.Errorf("policy '%s' has no rules", p.Name)
	}
	for i, rule := range p.Rules {
		if rule.Path == "" {
			return fmt.Errorf("policy '%s': rule #%d has empty path", p.Name, i)
		}
		if len(rule.Capabilities) == 0 {
			return fmt.Errorf("policy '%s': rule for '%s' has no capabilities", p.Name, rule.Path)
		}
		for _, c := range rule.Capabilities {
			if _, err := ParseCapability(string(c)); err != nil {
				return fmt.Errorf("policy '%s': rule for '%s': %w", p.Name, rule.Path, err)
			}
		}
	}
	return nil
}
