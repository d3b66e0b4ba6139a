package domain

import (
	"math"
	"strings"
)

// BuildState tracks an artifact build through its lifecycle. BUILD is the
// only non-terminal state.
type BuildState int

const (
	StateBuild BuildState = iota
	StateDone
	StateFailed
	StateCanceled
)

var buildStateNames = map[BuildState]string{
	StateBuild:    "build",
	StateDone:     "done",
	StateFailed:   "failed",
	StateCanceled: "canceled",
}

func (s BuildState) String() string {
	if name, ok := buildStateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s BuildState) Known() bool {
	_, ok := buildStateNames[s]
	return ok
}

// Terminal reports whether no further transitions are expected from s.
func (s BuildState) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCanceled
}

// BuildStateNames lists the valid state names in code order.
func BuildStateNames() []string {
	return []string{"build", "done", "failed", "canceled"}
}

// ParseBuildState normalizes v, either a numeric state code or a
// case-insensitive state name, to a BuildState. Anything else yields a
// ValueError naming the field.
func ParseBuildState(field string, v any) (BuildState, error) {
	if n, ok := intValue(v); ok {
		s := BuildState(n)
		if s.Known() {
			return s, nil
		}
		return 0, &ValueError{Field: field, Value: v, Valid: BuildStateNames()}
	}
	if name, ok := v.(string); ok {
		for s, n := range buildStateNames {
			if strings.EqualFold(name, n) {
				return s, nil
			}
		}
	}
	return 0, &ValueError{Field: field, Value: v, Valid: BuildStateNames()}
}

// ArtifactType says what kind of artifact a build produces.
type ArtifactType int

const (
	TypeRPM ArtifactType = iota
	TypeImage
	TypeModule
	TypeRepository
)

var artifactTypeNames = map[ArtifactType]string{
	TypeRPM:        "rpm",
	TypeImage:      "image",
	TypeModule:     "module",
	TypeRepository: "repository",
}

func (t ArtifactType) String() string {
	if name, ok := artifactTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

func (t ArtifactType) Known() bool {
	_, ok := artifactTypeNames[t]
	return ok
}

// ArtifactTypeNames lists the valid type names in code order.
func ArtifactTypeNames() []string {
	return []string{"rpm", "image", "module", "repository"}
}

// ParseArtifactType normalizes v, either a numeric type code or a
// case-insensitive type name, to an ArtifactType.
func ParseArtifactType(field string, v any) (ArtifactType, error) {
	if n, ok := intValue(v); ok {
		t := ArtifactType(n)
		if t.Known() {
			return t, nil
		}
		return 0, &ValueError{Field: field, Value: v, Valid: ArtifactTypeNames()}
	}
	if name, ok := v.(string); ok {
		for t, n := range artifactTypeNames {
			if strings.EqualFold(name, n) {
				return t, nil
			}
		}
	}
	return 0, &ValueError{Field: field, Value: v, Valid: ArtifactTypeNames()}
}

// intValue widens the integer shapes a decoded JSON value or caller may
// hand us. Floats count only when integral.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case BuildState:
		return int(n), true
	case ArtifactType:
		return int(n), true
	case float64:
		if math.Trunc(n) == n {
			return int(n), true
		}
	}
	return 0, false
}
