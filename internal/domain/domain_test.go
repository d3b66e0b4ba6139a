package domain_test

import (
	"errors"
	"strings"
	"testing"

	"freshline/internal/domain"
)

func TestKindCodesRoundTrip(t *testing.T) {
	kinds := domain.Kinds()
	if len(kinds) != 9 {
		t.Fatalf("expected 9 registered kinds, got %d", len(kinds))
	}
	for _, k := range kinds {
		code, err := domain.CodeOf(k)
		if err != nil {
			t.Fatalf("code of %s: %v", k, err)
		}
		back, err := domain.KindOf(code)
		if err != nil {
			t.Fatalf("kind of %d: %v", code, err)
		}
		if back != k {
			t.Fatalf("round trip %s -> %d -> %s", k, code, back)
		}
	}
}

func TestKindCodesStable(t *testing.T) {
	want := map[domain.EventKind]int{
		domain.KindModuleStateChange:    0,
		domain.KindGitMetadataChange:    1,
		domain.KindGitSpecChange:        2,
		domain.KindTesting:              3,
		domain.KindGitDockerfileChange:  4,
		domain.KindUpdateCompleteStable: 5,
		domain.KindTaskStateChange:      6,
		domain.KindSignEvent:            7,
		domain.KindAdvisorySigned:       8,
	}
	for kind, code := range want {
		got, err := domain.CodeOf(kind)
		if err != nil {
			t.Fatalf("code of %s: %v", kind, err)
		}
		if got != code {
			t.Fatalf("code of %s = %d, want %d", kind, got, code)
		}
	}
}

func TestKindsSortedByCode(t *testing.T) {
	kinds := domain.Kinds()
	for i, k := range kinds {
		if k.Code() != i {
			t.Fatalf("kinds[%d] = %s with code %d", i, k, k.Code())
		}
	}
}

func TestUnknownKindAndCode(t *testing.T) {
	_, err := domain.CodeOf("container-rebuild")
	var uk *domain.UnknownKindError
	if !errors.As(err, &uk) {
		t.Fatalf("expected UnknownKindError, got %v", err)
	}
	if uk.Kind != "container-rebuild" {
		t.Fatalf("unexpected kind in error: %q", uk.Kind)
	}

	_, err = domain.KindOf(42)
	var uc *domain.UnknownCodeError
	if !errors.As(err, &uc) {
		t.Fatalf("expected UnknownCodeError, got %v", err)
	}
	if uc.Code != 42 {
		t.Fatalf("unexpected code in error: %d", uc.Code)
	}

	if _, err := domain.ParseEventKind("not-a-kind"); err == nil {
		t.Fatalf("expected parse failure")
	}
}

func TestParseBuildState(t *testing.T) {
	cases := []struct {
		in   any
		want domain.BuildState
	}{
		{0, domain.StateBuild},
		{1, domain.StateDone},
		{int64(2), domain.StateFailed},
		{float64(3), domain.StateCanceled},
		{"build", domain.StateBuild},
		{"DONE", domain.StateDone},
		{"Failed", domain.StateFailed},
		{"canceled", domain.StateCanceled},
	}
	for _, c := range cases {
		got, err := domain.ParseBuildState("state", c.in)
		if err != nil {
			t.Fatalf("parse %v: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("parse %v = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseBuildStateRejects(t *testing.T) {
	for _, in := range []any{7, -1, "pending", 1.5, nil, true} {
		_, err := domain.ParseBuildState("state", in)
		var ve *domain.ValueError
		if !errors.As(err, &ve) {
			t.Fatalf("parse %v: expected ValueError, got %v", in, err)
		}
		if ve.Field != "state" {
			t.Fatalf("parse %v: field = %q", in, ve.Field)
		}
		if !strings.Contains(ve.Error(), "state") {
			t.Fatalf("error should name the field: %v", ve)
		}
	}
}

func TestParseArtifactType(t *testing.T) {
	cases := []struct {
		in   any
		want domain.ArtifactType
	}{
		{0, domain.TypeRPM},
		{1, domain.TypeImage},
		{2, domain.TypeModule},
		{3, domain.TypeRepository},
		{"rpm", domain.TypeRPM},
		{"IMAGE", domain.TypeImage},
		{"Module", domain.TypeModule},
		{"repository", domain.TypeRepository},
	}
	for _, c := range cases {
		got, err := domain.ParseArtifactType("type", c.in)
		if err != nil {
			t.Fatalf("parse %v: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("parse %v = %v, want %v", c.in, got, c.want)
		}
	}
	if _, err := domain.ParseArtifactType("type", "tarball"); err == nil {
		t.Fatalf("expected rejection")
	}
	if _, err := domain.ParseArtifactType("type", 9); err == nil {
		t.Fatalf("expected rejection")
	}
}

func TestTerminalStates(t *testing.T) {
	if domain.StateBuild.Terminal() {
		t.Fatalf("build must not be terminal")
	}
	for _, s := range []domain.BuildState{domain.StateDone, domain.StateFailed, domain.StateCanceled} {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
}

func TestStateNames(t *testing.T) {
	if domain.StateFailed.String() != "failed" {
		t.Fatalf("unexpected name: %s", domain.StateFailed)
	}
	if domain.BuildState(9).String() != "unknown" {
		t.Fatalf("out of range state should print unknown")
	}
	if domain.TypeImage.String() != "image" {
		t.Fatalf("unexpected name: %s", domain.TypeImage)
	}
}
