package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("op", "bad %s", "input"), KindValidation},
		{"wrapped authorization", fmt.Errorf("outer: %w", Authorization("op", "nope")), KindAuthorization},
		{"context canceled", context.Canceled, KindTransient},
		{"plain", errors.New("boom"), KindUnknown},
		{"nil", nil, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsMatchesKindAndCode(t *testing.T) {
	err := WithCode(Validation("media.Upload", "file too big"), CodeTooLarge)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge match")
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation match")
	}
	if errors.Is(err, ErrWrongType) {
		t.Fatalf("code mismatch should not match")
	}
	if errors.Is(err, ErrTransient) {
		t.Fatalf("kind mismatch should not match")
	}
}

func TestWrapKeepsKind(t *testing.T) {
	orig := NotFound("store.Get", "message %s", "x")
	if got := Wrap("outer", orig); got != error(orig) {
		t.Fatalf("Wrap replaced a typed error")
	}
	w := Wrap("store.Append", errors.New("conn reset"))
	if KindOf(w) != KindTransient {
		t.Fatalf("expected transient, got %v", KindOf(w))
	}
	if w.Error() != "store.Append: temporarily unavailable: conn reset" {
		t.Fatalf("unexpected message %q", w.Error())
	}
}
