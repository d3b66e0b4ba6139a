package engine

import (
	"fmt"
	"regexp"
	"strings"

	"freshline/internal/config"
	"freshline/internal/domain"
)

// PolicyDeniedError reports an artifact refused by the allowlist.
type PolicyDeniedError struct {
	Name string
	Type domain.ArtifactType
	Kind domain.EventKind
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("artifact %q (type %s) is not allowed for %s events", e.Name, e.Type, e.Kind)
}

// allowPolicy is the compiled form of config.Allowlist. A build passes
// when it satisfies every set field of at least one rule; an empty policy
// allows everything.
type allowPolicy struct {
	rules []allowRule
}

type allowRule struct {
	kinds map[domain.EventKind]struct{}
	types map[domain.ArtifactType]struct{}
	names []*regexp.Regexp
}

// compilePolicy trusts config.Validate to have rejected bad kinds, types
// and patterns; entries that still fail to parse are skipped.
func compilePolicy(rules []config.AllowRule) allowPolicy {
	var p allowPolicy
	for _, r := range rules {
		cr := allowRule{}
		if len(r.Kinds) > 0 {
			cr.kinds = make(map[domain.EventKind]struct{}, len(r.Kinds))
			for _, k := range r.Kinds {
				cr.kinds[domain.EventKind(strings.ToLower(k))] = struct{}{}
			}
		}
		if len(r.Types) > 0 {
			cr.types = make(map[domain.ArtifactType]struct{}, len(r.Types))
			for _, t := range r.Types {
				typ, err := domain.ParseArtifactType("type", t)
				if err != nil {
					continue
				}
				cr.types[typ] = struct{}{}
			}
		}
		for _, pattern := range r.Names {
			re, err := regexp.Compile(pattern)
			if err != nil {
				continue
			}
			cr.names = append(cr.names, re)
		}
		p.rules = append(p.rules, cr)
	}
	return p
}

func (p allowPolicy) check(kind domain.EventKind, typ domain.ArtifactType, name string) error {
	if len(p.rules) == 0 {
		return nil
	}
	for _, r := range p.rules {
		if r.matches(kind, typ, name) {
			return nil
		}
	}
	return &PolicyDeniedError{Name: name, Type: typ, Kind: kind}
}

func (r allowRule) matches(kind domain.EventKind, typ domain.ArtifactType, name string) bool {
	if r.kinds != nil {
		if _, ok := r.kinds[kind]; !ok {
			return false
		}
	}
	if r.types != nil {
		if _, ok := r.types[typ]; !ok {
			return false
		}
	}
	if len(r.names) > 0 {
		matched := false
		for _, re := range r.names {
			if re.MatchString(name) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
