package errors

import (
	"errors"
	"testing"
)

func TestError_ErrorString(t *testing.T) {
	plain := New(KindNotFound, "memory", "get_simulation", "no such simulation")
	if plain.Error() != "not-found: no such simulation" {
		t.Errorf("got %q", plain.Error())
	}

	wrapped := Wrap(errors.New("connection refused"), KindNetwork, "githost", "fetch", "could not reach api")
	if wrapped.Error() != "network: could not reach api: connection refused" {
		t.Errorf("got %q", wrapped.Error())
	}
}

func TestWrap_NilPassthrough(t *testing.T) {
	if Wrap(nil, KindDatabase, "s", "op", "m") != nil {
		t.Error("Wrap(nil, ...) should return nil")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := Wrap(cause, KindDatabase, "s", "op", "m")
	if errors.Unwrap(wrapped) != cause {
		t.Error("Unwrap should return the original cause")
	}
}

func TestIs_MatchesOnKindOnly(t *testing.T) {
	a := New(KindAuth, "github", "list_prs", "token expired")
	b := New(KindAuth, "linear", "list_issues", "token expired")
	c := New(KindNetwork, "github", "list_prs", "timeout")

	if !errors.Is(a, b) {
		t.Error("two errors of the same Kind should match via errors.Is")
	}
	if errors.Is(a, c) {
		t.Error("errors of different Kind should not match")
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(New(KindSandbox, "s", "o", "m")); got != KindSandbox {
		t.Errorf("got %v", got)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("got %v for a non-taxonomy error, want empty Kind", got)
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(New(KindAuth, "s", "o", "m")) {
		t.Error("auth errors should be fatal")
	}
	if IsFatal(New(KindRateLimit, "s", "o", "m")) {
		t.Error("rate-limit errors should not be fatal")
	}
	if IsFatal(errors.New("plain")) {
		t.Error("non-taxonomy errors should not be fatal")
	}
}

func TestWithDetail(t *testing.T) {
	err := New(KindParse, "adr", "parse_file", "bad frontmatter").WithDetail("path", "docs/0001.md")
	if err.Details["path"] != "docs/0001.md" {
		t.Errorf("WithDetail did not attach the key")
	}
	if err.Details["source"] != "adr" {
		t.Errorf("WithDetail should not clobber fields set by New")
	}
}
