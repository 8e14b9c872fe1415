package validator

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"

	"github.com/fhirstore/fhirstore/internal/platform/fhirdoc"
	"github.com/fhirstore/fhirstore/internal/platform/registry"
)

// validateSlices assigns each entry of values to the slice it
// discriminates into (or to the slicing root's "open" bucket), then
// checks each declared slice's cardinality, per spec.md §4.5a.
func (v *Validator) validateSlices(ctx context.Context, profile *registry.CanonicalProfile, element registry.CanonicalElement, values []fhirdoc.Value, result *Result) {
	slices := profile.SlicesOf(element.Path)
	if len(slices) == 0 {
		return
	}

	counts := make([]int, len(slices))
	unmatched := 0
	lastMatched := -1
	outOfOrder := false

	// sawMatchAfterUnmatched tracks, under RulesOpenAtEnd, whether any
	// value matched a declared slice after an unmatched value was already
	// seen. openAtEnd only tolerates unmatched values trailing every
	// matched one; an unmatched value followed by a later match is the
	// same violation a closed slicing rejects outright.
	sawUnmatched := false
	sawMatchAfterUnmatched := false

	for _, val := range values {
		matched := -1
		for i, slice := range slices {
			if v.discriminatesInto(ctx, element.Slicing.Discriminators, slice, val) {
				matched = i
				break
			}
		}
		if matched == -1 {
			unmatched++
			sawUnmatched = true
			continue
		}
		if sawUnmatched {
			sawMatchAfterUnmatched = true
		}
		counts[matched]++
		if element.Slicing.Ordered {
			if matched < lastMatched {
				outOfOrder = true
			}
			lastMatched = matched
		}
	}

	if outOfOrder {
		result.AddIssue(Issue{
			Severity:    SeverityError,
			Code:        CodeSlicingOrderViolation,
			Path:        element.Path,
			Diagnostics: "ordered slice values appear out of declaration order",
		})
	}

	for i, slice := range slices {
		if code, violated := cardinalityViolation(slice.Cardinality, counts[i]); violated {
			result.AddIssue(Issue{
				Severity: SeverityError,
				Code:     code,
				Path:     fmt.Sprintf("%s:%s", element.Path, slice.SliceName),
				Diagnostics: fmt.Sprintf("slice cardinality %d..%s not satisfied by %d value(s)",
					slice.Cardinality.Min, maxString(slice.Cardinality.Max), counts[i]),
			})
		}
	}

	switch element.Slicing.Rules {
	case registry.RulesClosed:
		if unmatched > 0 {
			result.AddIssue(Issue{
				Severity:    SeverityError,
				Code:        CodeSlicingNoMatch,
				Path:        element.Path,
				Diagnostics: fmt.Sprintf("%d value(s) match no declared slice in a closed slicing", unmatched),
			})
		}
	case registry.RulesOpenAtEnd:
		if sawMatchAfterUnmatched {
			result.AddIssue(Issue{
				Severity:    SeverityError,
				Code:        CodeSlicingNoMatch,
				Path:        element.Path,
				Diagnostics: "unmatched value precedes a later matched slice value in an openAtEnd slicing",
			})
		}
	}
}

// discriminatesInto reports whether val belongs to slice under every
// one of discriminators (all must agree, per FHIR's slicing semantics).
func (v *Validator) discriminatesInto(ctx context.Context, discriminators []registry.Discriminator, slice registry.CanonicalElement, val fhirdoc.Value) bool {
	if len(discriminators) == 0 {
		return false
	}
	for _, d := range discriminators {
		if !v.discriminatorMatches(ctx, d, slice, val) {
			return false
		}
	}
	return true
}

func (v *Validator) discriminatorMatches(ctx context.Context, d registry.Discriminator, slice registry.CanonicalElement, val fhirdoc.Value) bool {
	target := navigate(val, d.Path)
	if target.IsNull() && d.Path != "$this" {
		return false
	}

	switch d.Type {
	case "value":
		if slice.Fixed == nil {
			return false
		}
		return cmp.Diff(slice.Fixed, toGeneric(target)) == ""
	case "pattern":
		if slice.Pattern == nil {
			return false
		}
		return patternMatches(slice.Pattern, toGeneric(target))
	case "exists":
		return !target.IsNull()
	case "type":
		return kindMatchesAnyType(target, slice.Types)
	case "profile":
		obj, ok := target.AsObject()
		if !ok {
			return false
		}
		refVal, ok := obj.Get("reference")
		if !ok {
			return false
		}
		raw, _ := refVal.AsString()
		resourceType, id, found := cutRef(raw)
		if !found {
			return false
		}
		actualProfile, ok, err := v.references.ProfileOf(ctx, resourceType, id)
		if err != nil || !ok {
			return false
		}
		for _, t := range slice.Types {
			for _, p := range t.TargetProfiles {
				if p == actualProfile {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

func cutRef(raw string) (string, string, bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == '/' {
			return raw[:i], raw[i+1:], true
		}
	}
	return "", "", false
}

func kindMatchesAnyType(val fhirdoc.Value, types []registry.TypeRef) bool {
	for _, t := range types {
		if want, known := kindNames[t.Code]; known && val.Kind() == want {
			return true
		}
		if t.Code == "Reference" || t.Code == "CodeableConcept" || t.Code == "Quantity" || t.Code == "Identifier" {
			if val.Kind() == fhirdoc.KindObject {
				return true
			}
		}
	}
	return false
}

// navigate resolves a shallow "$this" or single-segment discriminator
// path against val. FHIR discriminator paths in practice are almost
// always "$this" or a single field name (e.g. "system", "code",
// "type.coding.system" for nested token slicing); deeper paths resolve
// one segment at a time.
func navigate(val fhirdoc.Value, path string) fhirdoc.Value {
	if path == "" || path == "$this" {
		return val
	}
	cur := val
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			segment := path[start:i]
			obj, ok := cur.AsObject()
			if !ok {
				return fhirdoc.Null()
			}
			next, ok := obj.Get(segment)
			if !ok {
				return fhirdoc.Null()
			}
			cur = next
			start = i + 1
		}
	}
	return cur
}
