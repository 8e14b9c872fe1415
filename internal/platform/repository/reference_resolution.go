package repository

import (
	"context"
	"net/url"
	"strings"

	coreerrors "github.com/fhirstore/fhirstore/internal/platform/errors"
	"github.com/fhirstore/fhirstore/internal/platform/fhirdoc"
	"github.com/fhirstore/fhirstore/internal/platform/search"
)

// resolveConditionalReferences implements the conditional reference
// supplement (SPEC_FULL.md Supplemented features): a reference of the
// form `ResourceType?identifier=value` is resolved to a literal
// `ResourceType/id` before the Row Indexer ever sees it, using the
// target type's `identifier` search parameter. A reference that fails
// to resolve to exactly one match is left untouched, so it indexes as
// an opaque literal string the way canonicalizeReference treats any
// non-relative reference.
func (r *Repository) resolveConditionalReferences(ctx context.Context, opCtx Context, doc *fhirdoc.Document) error {
	return walkReferences(fhirdoc.ObjectValue(doc.Root), func(obj *fhirdoc.Object, raw string) error {
		resolved, ok, err := r.resolveConditionalReference(ctx, opCtx, raw)
		if err != nil {
			return err
		}
		if ok {
			obj.Set("reference", fhirdoc.String(resolved))
		}
		return nil
	})
}

func walkReferences(v fhirdoc.Value, fn func(obj *fhirdoc.Object, raw string) error) error {
	if obj, ok := v.AsObject(); ok {
		if refVal, ok := obj.Get("reference"); ok {
			if ref, ok := refVal.AsString(); ok && isConditionalReference(ref) {
				if err := fn(obj, ref); err != nil {
					return err
				}
			}
		}
		for _, f := range obj.Fields() {
			if err := walkReferences(f.Value, fn); err != nil {
				return err
			}
		}
		return nil
	}
	if arr, ok := v.AsArray(); ok {
		for _, el := range arr {
			if err := walkReferences(el, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// isConditionalReference reports whether raw has the shape
// `ResourceType?query`, distinguishing it from a relative reference
// (`ResourceType/id`), a fragment (`#id`), or a URN (`urn:uuid:...`).
func isConditionalReference(raw string) bool {
	resourceType, query, found := strings.Cut(raw, "?")
	if !found || resourceType == "" || query == "" {
		return false
	}
	for _, r := range resourceType {
		if r < 'A' || r > 'Z' {
			if r < 'a' || r > 'z' {
				return false
			}
		}
	}
	return true
}

// resolveConditionalReference resolves a single `ResourceType?query`
// reference by searching the target type with the given query. ok is
// false (no error) when the search does not match exactly one
// resource, so the caller leaves the reference as-is.
func (r *Repository) resolveConditionalReference(ctx context.Context, opCtx Context, raw string) (string, bool, error) {
	resourceType, query, _ := strings.Cut(raw, "?")
	if _, ok := r.tableSet(resourceType); !ok {
		return "", false, nil
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return "", false, coreerrors.New(coreerrors.InvalidResource, "invalid conditional reference %q: %v", raw, err)
	}
	req, err := search.ParseQuery(resourceType, values)
	if err != nil {
		return "", false, coreerrors.New(coreerrors.InvalidResource, "invalid conditional reference %q: %v", raw, err)
	}
	result, err := r.Search(ctx, opCtx, req)
	if err != nil {
		return "", false, err
	}
	if len(result.Matches) != 1 {
		return "", false, nil
	}
	return resourceType + "/" + result.Matches[0].ID.String(), true, nil
}
