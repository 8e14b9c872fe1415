// Package indexer implements the Row Indexer of spec.md §4.2: given a
// resource document and its type's search parameters, compute the
// column map, token/lookup sub-rows, and outbound reference list that
// the Repository writes alongside the document.
package indexer

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	coreerrors "github.com/fhirstore/fhirstore/internal/platform/errors"
	"github.com/fhirstore/fhirstore/internal/platform/fhirdoc"
	"github.com/fhirstore/fhirstore/internal/platform/registry"
)

// tokenNamespace roots the UUIDv5 stable hash of token tuples. A fixed,
// arbitrary namespace is sufficient since only internal self-consistency
// of the hash matters, not collision resistance against third parties.
var tokenNamespace = uuid.MustParse("6f6d7c4a-6b0a-4f4e-9a4b-9e6f8e6f0a10")

// PathEvaluator evaluates a search parameter's FHIRPath-like expression
// against a document, yielding the raw values it selects. The evaluator
// itself is an external collaborator (spec.md §6) — the indexer only
// consumes its output.
type PathEvaluator interface {
	Evaluate(doc *fhirdoc.Document, expression string) ([]fhirdoc.Value, error)
}

// TokenEntry is one extracted token: the canonical "system|code" text
// plus its stable hash, bound into a token column triplet.
type TokenEntry struct {
	Text string
	Hash uuid.UUID
}

// LookupEntry is one ordered sub-row for a lookup-table strategy
// parameter.
type LookupEntry struct {
	Index  int
	Value  string
	System string
}

// ReferenceEntry is one outbound reference extracted from the document.
type ReferenceEntry struct {
	TargetType string
	TargetID   string
	Code       string
	Raw        string // preserved verbatim for URNs/fragments/absolute URLs
}

// Row is the complete indexing result for one document.
type Row struct {
	Columns    map[string]interface{}
	Tokens     map[string][]TokenEntry
	Lookups    map[string][]LookupEntry
	References []ReferenceEntry
}

// Indexer computes Rows using a caller-supplied PathEvaluator.
type Indexer struct {
	eval PathEvaluator
}

// New builds an Indexer bound to a FHIRPath evaluator.
func New(eval PathEvaluator) *Indexer {
	return &Indexer{eval: eval}
}

// Index computes the Row for doc against the given search parameters,
// per spec.md §4.2. It is deterministic: the same document and
// parameter set always yield the same Row.
func (ix *Indexer) Index(doc *fhirdoc.Document, params []*registry.CanonicalSearchParameter) (*Row, error) {
	row := &Row{
		Columns: map[string]interface{}{},
		Tokens:  map[string][]TokenEntry{},
		Lookups: map[string][]LookupEntry{},
	}

	for _, sp := range params {
		values, err := ix.eval.Evaluate(doc, sp.Expression)
		if err != nil {
			return nil, coreerrors.Wrap(coreerrors.InternalError, err, "evaluating %s.%s", sp.ResourceType, sp.Code)
		}
		if err := bindParameter(row, sp, values); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func bindParameter(row *Row, sp *registry.CanonicalSearchParameter, values []fhirdoc.Value) error {
	switch sp.Strategy {
	case registry.StrategyColumn:
		return bindColumn(row, sp, values)
	case registry.StrategyTokenColumn:
		return bindTokenColumn(row, sp, values)
	case registry.StrategySharedToken:
		return bindSharedToken(row, sp, values)
	case registry.StrategyLookupTable:
		return bindLookupTable(row, sp, values)
	default:
		return coreerrors.New(coreerrors.InvalidSpec, "%s.%s: unknown strategy %q", sp.ResourceType, sp.Code, sp.Strategy)
	}
}

func bindColumn(row *Row, sp *registry.CanonicalSearchParameter, values []fhirdoc.Value) error {
	if len(values) == 0 {
		return nil
	}
	switch sp.Type {
	case registry.SPDate:
		lo, _, err := dateInterval(scalarString(values[0]))
		if err != nil {
			return err
		}
		row.Columns[sp.Code] = lo
	case registry.SPNumber, registry.SPQuantity:
		d, err := scalarDecimal(values[0])
		if err != nil {
			return err
		}
		row.Columns[sp.Code] = d
	case registry.SPReference:
		entry := canonicalizeReference(scalarString(values[0]), sp.Code)
		row.References = append(row.References, entry)
		row.Columns[sp.Code] = entry.Raw
	default:
		row.Columns[sp.Code] = scalarString(values[0])
	}
	return nil
}

func bindTokenColumn(row *Row, sp *registry.CanonicalSearchParameter, values []fhirdoc.Value) error {
	var entries []TokenEntry
	var hashes []uuid.UUID
	var texts []string
	var sortValue string
	for i, v := range values {
		system, code := tokenTuple(v)
		text := system + "|" + code
		hash := stableHash(text)
		entries = append(entries, TokenEntry{Text: text, Hash: hash})
		hashes = append(hashes, hash)
		texts = append(texts, text)
		if i == 0 {
			sortValue = strings.ToLower(display(v))
		}
	}
	row.Tokens[sp.Code] = entries
	row.Columns["__"+sp.Code] = hashes
	row.Columns["__"+sp.Code+"Text"] = texts
	row.Columns["__"+sp.Code+"Sort"] = sortValue
	return nil
}

// bindSharedToken folds a shared-token strategy parameter's values into
// the main row's always-present __sharedTokens/__sharedTokensText
// arrays (spec.md §4.1) instead of a dedicated per-parameter column
// triplet. Each text entry carries the parameter code as a prefix
// ("code:system|value") so a search clause can still tell which
// parameter a hit belongs to; several such parameters on one resource
// type then share a single GIN index rather than each paying for its
// own column and index.
func bindSharedToken(row *Row, sp *registry.CanonicalSearchParameter, values []fhirdoc.Value) error {
	hashes, _ := row.Columns["__sharedTokens"].([]uuid.UUID)
	texts, _ := row.Columns["__sharedTokensText"].([]string)
	var entries []TokenEntry
	for _, v := range values {
		system, code := tokenTuple(v)
		text := sp.Code + ":" + system + "|" + code
		hash := stableHash(text)
		entries = append(entries, TokenEntry{Text: text, Hash: hash})
		hashes = append(hashes, hash)
		texts = append(texts, text)
	}
	row.Tokens[sp.Code] = entries
	row.Columns["__sharedTokens"] = hashes
	row.Columns["__sharedTokensText"] = texts
	return nil
}

func bindLookupTable(row *Row, sp *registry.CanonicalSearchParameter, values []fhirdoc.Value) error {
	var entries []LookupEntry
	for i, v := range values {
		system, value := tokenTuple(v)
		entries = append(entries, LookupEntry{Index: i, Value: value, System: system})
	}
	row.Lookups[sp.Code] = entries
	return nil
}

// scalarString extracts a plain string from v, normalising to Unicode
// NFC per spec.md §4.2's string transform rule.
func scalarString(v fhirdoc.Value) string {
	s, _ := v.AsString()
	return norm.NFC.String(s)
}

func display(v fhirdoc.Value) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	if obj, ok := v.AsObject(); ok {
		if text, ok := obj.Get("text"); ok {
			if s, ok := text.AsString(); ok {
				return s
			}
		}
	}
	return ""
}

func scalarDecimal(v fhirdoc.Value) (decimal.Decimal, error) {
	if obj, ok := v.AsObject(); ok {
		if val, ok := obj.Get("value"); ok {
			if d, ok := val.AsNumber(); ok {
				return d, nil
			}
		}
		return decimal.Decimal{}, coreerrors.New(coreerrors.InvalidResource, "quantity/number element missing numeric value")
	}
	d, ok := v.AsNumber()
	if !ok {
		return decimal.Decimal{}, coreerrors.New(coreerrors.InvalidResource, "expected a numeric value")
	}
	return d, nil
}

// tokenTuple extracts (system, code) from a raw value per the forms of
// spec.md §4.2: a bare string is a bare code; an object with
// system/code or system/value fields is a full Coding/Identifier-shaped
// token.
func tokenTuple(v fhirdoc.Value) (system, code string) {
	if s, ok := v.AsString(); ok {
		return "", s
	}
	obj, ok := v.AsObject()
	if !ok {
		return "", ""
	}
	if sys, ok := obj.Get("system"); ok {
		system, _ = sys.AsString()
	}
	if c, ok := obj.Get("code"); ok {
		code, _ = c.AsString()
	} else if val, ok := obj.Get("value"); ok {
		code, _ = val.AsString()
	}
	return system, code
}

func stableHash(text string) uuid.UUID {
	return StableHash(text)
}

// StableHash computes the stable UUID hash of a canonical "system|code"
// token tuple used across the token column triplet and wherever else a
// token needs a set-comparable identity (e.g. the Repository's meta
// tag/security columns).
func StableHash(text string) uuid.UUID {
	return uuid.NewSHA1(tokenNamespace, []byte(text))
}

// compartmentNamespace roots the UUIDv5 derivation of a compartment id
// from a Patient logical id, so that a `compartments` column can be a
// UUID array like every other token column even though FHIR ids are
// plain strings (spec.md §4.3 Compartments).
var compartmentNamespace = uuid.MustParse("b6f4f2f0-2d46-4b7e-9a7b-9b4e6e9c0a21")

// CompartmentID derives the compartment id for the Patient logical id
// patientID. The Repository uses this while indexing a document; the
// Search Compiler uses it to translate a `/Patient/:pid/...` compartment
// search into the equivalent `compartments && ARRAY[...]` predicate.
func CompartmentID(patientID string) uuid.UUID {
	return uuid.NewSHA1(compartmentNamespace, []byte(patientID))
}

// canonicalizeReference implements spec.md §4.2's reference transform:
// a relative reference canonicalises to <TargetType>/<id>; a URN or
// fragment reference is preserved untouched.
func canonicalizeReference(raw, code string) ReferenceEntry {
	if strings.HasPrefix(raw, "urn:") || strings.HasPrefix(raw, "#") {
		return ReferenceEntry{Raw: raw, Code: code}
	}
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) == 2 {
		return ReferenceEntry{TargetType: parts[0], TargetID: parts[1], Code: code, Raw: raw}
	}
	return ReferenceEntry{Raw: raw, Code: code}
}

// dateInterval computes the [lo, hi] interval implied by a FHIR
// date/dateTime/instant/time literal's precision, per spec.md §4.2.
func dateInterval(value string) (lo, hi time.Time, err error) {
	layouts := []struct {
		layout string
		unit   time.Duration
	}{
		{"2006", 0},
		{"2006-01", 0},
		{"2006-01-02", 24 * time.Hour},
		{"2006-01-02T15:04:05Z07:00", 0},
		{"2006-01-02T15:04:05.999999999Z07:00", 0},
		{"15:04:05", 0},
	}
	for _, l := range layouts {
		t, parseErr := time.Parse(l.layout, value)
		if parseErr != nil {
			continue
		}
		switch l.layout {
		case "2006":
			return t, t.AddDate(1, 0, 0), nil
		case "2006-01":
			return t, t.AddDate(0, 1, 0), nil
		case "2006-01-02":
			return t, t.AddDate(0, 0, 1), nil
		default:
			return t, t, nil
		}
	}
	return time.Time{}, time.Time{}, coreerrors.New(coreerrors.InvalidResource, "unparseable date/time literal: %q", value)
}
