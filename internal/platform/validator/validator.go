package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/fhirstore/fhirstore/internal/platform/fhirdoc"
	"github.com/fhirstore/fhirstore/internal/platform/registry"
)

// kindNames maps the FHIR primitive/complex type codes the core cares
// about to the fhirdoc.Kind they must arrive as on the wire.
var kindNames = map[string]fhirdoc.Kind{
	"boolean":   fhirdoc.KindBool,
	"integer":   fhirdoc.KindNumber,
	"decimal":   fhirdoc.KindNumber,
	"string":    fhirdoc.KindString,
	"uri":       fhirdoc.KindString,
	"url":       fhirdoc.KindString,
	"canonical": fhirdoc.KindString,
	"code":      fhirdoc.KindString,
	"id":        fhirdoc.KindString,
	"dateTime":  fhirdoc.KindString,
	"date":      fhirdoc.KindString,
	"instant":   fhirdoc.KindString,
	"time":      fhirdoc.KindString,
	"base64Binary": fhirdoc.KindString,
}

// Validator checks a resource document against a frozen
// StructureDefinitionRegistry, per spec.md §4.5.
type Validator struct {
	profiles    *registry.StructureDefinitionRegistry
	constraints ConstraintEvaluator
	references  ReferenceChecker
}

// New builds a Validator. A nil ConstraintEvaluator or ReferenceChecker
// falls back to a Noop implementation, matching how Repository.New
// tolerates a nil search.HierarchyResolver/ValueSetResolver.
func New(profiles *registry.StructureDefinitionRegistry, constraints ConstraintEvaluator, references ReferenceChecker) *Validator {
	if constraints == nil {
		constraints = NoopConstraintEvaluator{}
	}
	if references == nil {
		references = NoopReferenceChecker{}
	}
	return &Validator{profiles: profiles, constraints: constraints, references: references}
}

// Validate checks doc against the named profile (its declared
// resourceType's base profile when profileURL is ""), returning every
// issue found rather than stopping at the first.
func (v *Validator) Validate(ctx context.Context, doc *fhirdoc.Document, profileURL string) (*Result, error) {
	result := NewResult()
	resourceType := doc.ResourceType()
	if resourceType == "" {
		result.AddIssue(Issue{Severity: SeverityFatal, Code: CodeStructure, Path: "", Diagnostics: "missing resourceType"})
		return result, nil
	}

	var profile *registry.CanonicalProfile
	var lookupErr error
	if profileURL != "" {
		profile, lookupErr = v.profiles.Get(profileURL)
	} else {
		profile, lookupErr = v.profiles.GetByType(resourceType)
	}
	if lookupErr != nil {
		result.AddIssue(Issue{
			Severity:    SeverityFatal,
			Code:        CodeNotFound,
			Path:        resourceType,
			Diagnostics: fmt.Sprintf("no StructureDefinition registered for %q", profileURLOr(profileURL, resourceType)),
		})
		return result, nil
	}

	v.walkObject(ctx, profile, resourceType, doc.Root, result)
	return result, nil
}

func profileURLOr(url, fallback string) string {
	if url != "" {
		return url
	}
	return fallback
}

// walkObject validates obj (the node currently at path) against every
// direct child element of profile rooted at path.
func (v *Validator) walkObject(ctx context.Context, profile *registry.CanonicalProfile, path string, obj *fhirdoc.Object, result *Result) {
	for _, child := range directChildren(profile, path) {
		v.walkElement(ctx, profile, child, obj, result)
	}
}

// directChildren returns the non-slice elements whose Path is exactly
// one segment deeper than parentPath.
func directChildren(profile *registry.CanonicalProfile, parentPath string) []registry.CanonicalElement {
	prefix := parentPath + "."
	var out []registry.CanonicalElement
	for _, e := range profile.Elements {
		if e.SliceName != "" {
			continue
		}
		if !strings.HasPrefix(e.Path, prefix) {
			continue
		}
		rest := e.Path[len(prefix):]
		if strings.Contains(rest, ".") {
			continue
		}
		out = append(out, e)
	}
	return out
}

// walkElement resolves element's field(s) on obj and validates them.
func (v *Validator) walkElement(ctx context.Context, profile *registry.CanonicalProfile, element registry.CanonicalElement, obj *fhirdoc.Object, result *Result) {
	fieldName := lastSegment(element.Path)

	if element.IsChoiceElement() {
		baseName := strings.TrimSuffix(fieldName, "[x]")
		var suffixes []string
		for _, t := range element.Types {
			suffixes = append(suffixes, strings.ToUpper(t.Code[:1])+t.Code[1:])
		}
		match, found := fhirdoc.ExtractChoice(obj, fhirdoc.ChoiceField{BaseName: baseName, AllowedSuffixes: suffixes})
		if !found {
			if element.Cardinality.Min > 0 {
				result.AddIssue(Issue{Severity: SeverityError, Code: CodeCardinalityMin, Path: element.Path, Diagnostics: "missing required choice element"})
			}
			return
		}
		v.validateValue(ctx, profile, element, strings.ToLower(match.Suffix), match.Value, true, result)
		return
	}

	val, present := obj.Get(fieldName)
	if !present || val.IsNull() {
		if element.Cardinality.Min > 0 {
			result.AddIssue(Issue{Severity: SeverityError, Code: CodeCardinalityMin, Path: element.Path, Diagnostics: "missing required element"})
		}
		return
	}

	values, isArray := val.AsArray()
	if !isArray {
		values = []fhirdoc.Value{val}
	}

	if code, violated := cardinalityViolation(element.Cardinality, len(values)); violated {
		result.AddIssue(Issue{
			Severity:    SeverityError,
			Code:        code,
			Path:        element.Path,
			Diagnostics: fmt.Sprintf("cardinality %d..%s not satisfied by %d value(s)", element.Cardinality.Min, maxString(element.Cardinality.Max), len(values)),
		})
	}

	if element.Slicing != nil && isArray {
		v.validateSlices(ctx, profile, element, values, result)
	}

	typeCode := primaryTypeCode(element)
	for _, child := range values {
		v.validateValue(ctx, profile, element, typeCode, child, false, result)
	}
}

// cardinalityViolation reports which bound of card a count of n values
// fails, if any, so callers can emit spec.md §4.5's distinct
// CARDINALITY_MIN_VIOLATION / CARDINALITY_MAX_VIOLATION codes instead
// of a single generic structure code.
func cardinalityViolation(card registry.Cardinality, n int) (Code, bool) {
	if n < card.Min {
		return CodeCardinalityMin, true
	}
	if card.Max != registry.Unbounded && n > card.Max {
		return CodeCardinalityMax, true
	}
	return "", false
}

func maxString(max int) string {
	if max == registry.Unbounded {
		return "*"
	}
	return fmt.Sprintf("%d", max)
}

func primaryTypeCode(element registry.CanonicalElement) string {
	if len(element.Types) == 0 {
		return ""
	}
	return element.Types[0].Code
}

// validateValue checks one scalar/object value against its declared
// type: primitive kind, fixed/pattern, reference target, nested
// structure, and attached invariants. isChoice marks a value[x] slot
// whose typeCode was resolved from the concrete suffix present on the
// wire (e.g. valueQuantity -> "quantity"), so a kind mismatch here
// means the wrong choice branch was used, not just an ordinary type
// mismatch (spec.md §4.5 rule 3, INVALID_CHOICE_TYPE).
func (v *Validator) validateValue(ctx context.Context, profile *registry.CanonicalProfile, element registry.CanonicalElement, typeCode string, val fhirdoc.Value, isChoice bool, result *Result) {
	if wantKind, known := kindNames[typeCode]; known && val.Kind() != wantKind {
		code := CodeValue
		if isChoice {
			code = CodeInvalidChoiceType
		}
		result.AddIssue(Issue{
			Severity:    SeverityError,
			Code:        code,
			Path:        element.Path,
			Diagnostics: fmt.Sprintf("expected %s, got a different JSON type", typeCode),
		})
	}

	if element.Fixed != nil {
		if diff := cmp.Diff(element.Fixed, toGeneric(val)); diff != "" {
			result.AddIssue(Issue{Severity: SeverityError, Code: CodeFixedValueMismatch, Path: element.Path, Diagnostics: "value does not match fixed[x]"})
		}
	}
	if element.Pattern != nil {
		if !patternMatches(element.Pattern, toGeneric(val)) {
			result.AddIssue(Issue{Severity: SeverityError, Code: CodePatternValueMismatch, Path: element.Path, Diagnostics: "value does not match pattern[x]"})
		}
	}

	if typeCode == "Reference" {
		v.validateReference(ctx, element, val, result)
	}

	for _, c := range element.Constraints {
		ok, err := v.constraints.Evaluate(ctx, c.Expression, toGeneric(val))
		if err != nil {
			result.AddIssue(Issue{Severity: SeverityWarning, Code: CodeProcessing, Path: element.Path, Diagnostics: fmt.Sprintf("constraint %s could not be evaluated: %v", c.Key, err)})
			continue
		}
		if !ok {
			sev := SeverityError
			if c.Severity == "warning" {
				sev = SeverityWarning
			}
			result.AddIssue(Issue{Severity: sev, Code: CodeInvariant, Path: element.Path, Diagnostics: fmt.Sprintf("%s: %s", c.Key, c.Human)})
		}
	}

	if obj, ok := val.AsObject(); ok {
		v.walkObject(ctx, profile, element.Path, obj, result)
	}
}

func (v *Validator) validateReference(ctx context.Context, element registry.CanonicalElement, val fhirdoc.Value, result *Result) {
	obj, ok := val.AsObject()
	if !ok {
		return
	}
	refVal, ok := obj.Get("reference")
	if !ok {
		return
	}
	raw, ok := refVal.AsString()
	if !ok || raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "urn:") {
		return
	}
	resourceType, id, found := strings.Cut(raw, "/")
	if !found {
		return
	}

	exists, err := v.references.Exists(ctx, resourceType, id)
	if err != nil {
		result.AddIssue(Issue{Severity: SeverityWarning, Code: CodeProcessing, Path: element.Path, Diagnostics: fmt.Sprintf("could not resolve reference %q: %v", raw, err)})
		return
	}
	if !exists {
		result.AddIssue(Issue{Severity: SeverityWarning, Code: CodeNotFound, Path: element.Path, Diagnostics: fmt.Sprintf("referenced resource %q not found", raw)})
		return
	}

	targets := referenceTargetTypes(element)
	if len(targets) == 0 {
		return
	}
	for _, t := range targets {
		if t == resourceType {
			return
		}
	}
	result.AddIssue(Issue{
		Severity:    SeverityError,
		Code:        CodeInvalid,
		Path:        element.Path,
		Diagnostics: fmt.Sprintf("reference to %q is not an allowed target type (%s)", resourceType, strings.Join(targets, ", ")),
	})
}

func referenceTargetTypes(element registry.CanonicalElement) []string {
	var targets []string
	for _, t := range element.Types {
		if t.Code != "Reference" {
			continue
		}
		for _, profile := range t.TargetProfiles {
			if idx := strings.LastIndex(profile, "/"); idx >= 0 {
				targets = append(targets, profile[idx+1:])
			} else {
				targets = append(targets, profile)
			}
		}
	}
	return targets
}

func lastSegment(path string) string {
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// toGeneric converts a fhirdoc.Value into the plain Go representation
// (map[string]interface{} / []interface{} / string / float64 / bool /
// nil) that CanonicalElement.Fixed and .Pattern are decoded into, so
// go-cmp can compare them directly. Numeric precision loss versus the
// document's decimal.Decimal is immaterial here: fixed/pattern literals
// come from the StructureDefinition as plain encoding/json float64 too,
// so both sides go through the same lossy conversion symmetrically.
func toGeneric(v fhirdoc.Value) interface{} {
	switch v.Kind() {
	case fhirdoc.KindNull:
		return nil
	case fhirdoc.KindBool:
		b, _ := v.AsBool()
		return b
	case fhirdoc.KindString:
		s, _ := v.AsString()
		return s
	case fhirdoc.KindNumber:
		n, _ := v.AsNumber()
		f, _ := n.Float64()
		return f
	case fhirdoc.KindArray:
		arr, _ := v.AsArray()
		out := make([]interface{}, len(arr))
		for i, e := range arr {
			out[i] = toGeneric(e)
		}
		return out
	case fhirdoc.KindObject:
		obj, _ := v.AsObject()
		out := map[string]interface{}{}
		for _, f := range obj.Fields() {
			out[f.Key] = toGeneric(f.Value)
		}
		return out
	}
	return nil
}

// patternMatches implements FHIR's pattern[x] semantics: every field
// present in pattern must be present and equal in actual; actual may
// carry additional fields pattern does not mention.
func patternMatches(pattern, actual interface{}) bool {
	patternObj, ok := pattern.(map[string]interface{})
	if !ok {
		return cmp.Diff(pattern, actual) == ""
	}
	actualObj, ok := actual.(map[string]interface{})
	if !ok {
		return false
	}
	for k, pv := range patternObj {
		av, present := actualObj[k]
		if !present {
			return false
		}
		if !patternMatches(pv, av) {
			return false
		}
	}
	return true
}
