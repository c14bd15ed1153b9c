package pinvoke

import "strings"

// Policy is the allow-list of native modules that may be statically linked.
// The zero value rejects everything. A Policy is immutable once built.
type Policy struct {
	allowed map[string]struct{}
	names   []string
}

// NewPolicy builds a policy from module names. Order of first appearance is
// kept; duplicates and empty names are dropped.
func NewPolicy(names ...string) Policy {
	p := Policy{allowed: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := p.allowed[n]; dup {
			continue
		}
		p.allowed[n] = struct{}{}
		p.names = append(p.names, n)
	}
	return p
}

// ParsePolicy builds a policy from a comma separated list.
func ParsePolicy(csv string) Policy {
	return NewPolicy(strings.Split(csv, ",")...)
}

// Allows reports whether module is on the list.
func (p Policy) Allows(module string) bool {
	_, ok := p.allowed[module]
	return ok
}

// Modules returns the allowed module names in order.
func (p Policy) Modules() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Len returns the number of allowed modules.
func (p Policy) Len() int {
	return len(p.names)
}

// With returns a new policy extended by names.
func (p Policy) With(names ...string) Policy {
	return NewPolicy(append(p.Modules(), names...)...)
}
