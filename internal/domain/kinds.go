package domain

import "sort"

// EventKind identifies what sort of external change triggered an event.
// Each kind has a stable numeric code used in storage and on the wire.
type EventKind string

const (
	KindModuleStateChange    EventKind = "module-state-change"
	KindGitMetadataChange    EventKind = "git-metadata-change"
	KindGitSpecChange        EventKind = "git-spec-change"
	KindTesting              EventKind = "testing"
	KindGitDockerfileChange  EventKind = "git-dockerfile-change"
	KindUpdateCompleteStable EventKind = "update-complete-stable"
	KindTaskStateChange      EventKind = "task-state-change"
	KindSignEvent            EventKind = "sign-event"
	KindAdvisorySigned       EventKind = "advisory-signed"
)

var kindCodes = map[EventKind]int{
	KindModuleStateChange:    0,
	KindGitMetadataChange:    1,
	KindGitSpecChange:        2,
	KindTesting:              3,
	KindGitDockerfileChange:  4,
	KindUpdateCompleteStable: 5,
	KindTaskStateChange:      6,
	KindSignEvent:            7,
	KindAdvisorySigned:       8,
}

var codeKinds = func() map[int]EventKind {
	m := make(map[int]EventKind, len(kindCodes))
	for k, c := range kindCodes {
		m[c] = k
	}
	return m
}()

// CodeOf returns the numeric code registered for kind.
func CodeOf(kind EventKind) (int, error) {
	code, ok := kindCodes[kind]
	if !ok {
		return 0, &UnknownKindError{Kind: string(kind)}
	}
	return code, nil
}

// KindOf returns the kind registered under code.
func KindOf(code int) (EventKind, error) {
	kind, ok := codeKinds[code]
	if !ok {
		return "", &UnknownCodeError{Code: code}
	}
	return kind, nil
}

// Known reports whether the kind is registered.
func (k EventKind) Known() bool {
	_, ok := kindCodes[k]
	return ok
}

// Code returns the numeric code for a registered kind and -1 otherwise.
func (k EventKind) Code() int {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return -1
}

// Kinds lists every registered kind in code order.
func Kinds() []EventKind {
	out := make([]EventKind, 0, len(kindCodes))
	for k := range kindCodes {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return kindCodes[out[i]] < kindCodes[out[j]] })
	return out
}

// ParseEventKind validates a kind name received from outside.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !k.Known() {
		return "", &UnknownKindError{Kind: s}
	}
	return k, nil
}
