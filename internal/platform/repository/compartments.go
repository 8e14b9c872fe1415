package repository

import (
	"strings"

	"github.com/google/uuid"

	"github.com/fhirstore/fhirstore/internal/platform/fhirdoc"
	"github.com/fhirstore/fhirstore/internal/platform/indexer"
)

// extractCompartments walks the entire document looking for reference
// elements that target Patient, and returns the compartment id for
// each distinct patient found. Unlike search-parameter indexing, this
// scan is unconditional — compartment membership is derived from every
// reference in the resource, not just the ones named by a registered
// search parameter.
func extractCompartments(doc *fhirdoc.Document) []uuid.UUID {
	seen := map[string]bool{}
	var out []uuid.UUID
	walkCompartmentRefs(fhirdoc.ObjectValue(doc.Root), seen, &out)
	return out
}

func walkCompartmentRefs(v fhirdoc.Value, seen map[string]bool, out *[]uuid.UUID) {
	if obj, ok := v.AsObject(); ok {
		if refVal, ok := obj.Get("reference"); ok {
			if ref, ok := refVal.AsString(); ok {
				if id, ok := patientID(ref); ok && !seen[id] {
					seen[id] = true
					*out = append(*out, indexer.CompartmentID(id))
				}
			}
		}
		for _, f := range obj.Fields() {
			walkCompartmentRefs(f.Value, seen, out)
		}
		return
	}
	if arr, ok := v.AsArray(); ok {
		for _, el := range arr {
			walkCompartmentRefs(el, seen, out)
		}
	}
}

func patientID(reference string) (string, bool) {
	const prefix = "Patient/"
	if !strings.HasPrefix(reference, prefix) {
		return "", false
	}
	return strings.TrimPrefix(reference, prefix), true
}

