package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
		want bool
	}{
		{"matching kind", New(ResourceNotFound, "patient %s", "abc"), ResourceNotFound, true},
		{"different kind", New(ResourceGone, "x"), ResourceNotFound, false},
		{"plain error", fmt.Errorf("boom"), ResourceNotFound, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Is(tc.err, tc.kind); got != tc.want {
				t.Errorf("Is(%v, %v) = %v, want %v", tc.err, tc.kind, got, tc.want)
			}
		})
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(InternalError, cause, "write row")
	if !errors.Is(err, cause) {
		t.Errorf("expected Wrap to preserve cause for errors.Is")
	}
	if got := KindOf(err); got != InternalError {
		t.Errorf("KindOf = %v, want %v", got, InternalError)
	}
}

func TestSentinelComparison(t *testing.T) {
	err := New(VersionConflict, "version mismatch for id=42")
	if !errors.Is(err, Sentinel(VersionConflict)) {
		t.Errorf("expected errors.Is to match on Kind via Sentinel")
	}
	if errors.Is(err, Sentinel(ResourceGone)) {
		t.Errorf("did not expect match against a different Kind")
	}
}
