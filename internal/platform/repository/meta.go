package repository

import (
	"time"

	"github.com/google/uuid"

	"github.com/fhirstore/fhirstore/internal/platform/fhirdoc"
	"github.com/fhirstore/fhirstore/internal/platform/indexer"
)

// metaTokens is the result of extracting the always-present meta token
// columns (spec.md §4.1 fixed infrastructure columns: __tag,
// __tagText, __security, __securityText, _profile).
type metaTokens struct {
	tagHash      []uuid.UUID
	tagText      []string
	securityHash []uuid.UUID
	securityText []string
	profiles     []string
}

func extractMetaTokens(doc *fhirdoc.Document) metaTokens {
	var mt metaTokens
	metaVal, ok := doc.Root.Get("meta")
	if !ok {
		return mt
	}
	metaObj, ok := metaVal.AsObject()
	if !ok {
		return mt
	}
	if tagVal, ok := metaObj.Get("tag"); ok {
		mt.tagHash, mt.tagText = extractCodingArray(tagVal)
	}
	if secVal, ok := metaObj.Get("security"); ok {
		mt.securityHash, mt.securityText = extractCodingArray(secVal)
	}
	if profVal, ok := metaObj.Get("profile"); ok {
		if arr, ok := profVal.AsArray(); ok {
			for _, el := range arr {
				if s, ok := el.AsString(); ok {
					mt.profiles = append(mt.profiles, s)
				}
			}
		}
	}
	return mt
}

func extractCodingArray(v fhirdoc.Value) ([]uuid.UUID, []string) {
	arr, ok := v.AsArray()
	if !ok {
		return nil, nil
	}
	var hashes []uuid.UUID
	var texts []string
	for _, el := range arr {
		obj, ok := el.AsObject()
		if !ok {
			continue
		}
		var system, code string
		if sysVal, ok := obj.Get("system"); ok {
			system, _ = sysVal.AsString()
		}
		if codeVal, ok := obj.Get("code"); ok {
			code, _ = codeVal.AsString()
		}
		text := system + "|" + code
		texts = append(texts, text)
		hashes = append(hashes, indexer.StableHash(text))
	}
	return hashes, texts
}

// stampMeta writes versionId and lastUpdated into the document's meta
// element, creating it if absent, preserving the document's existing
// field order otherwise (spec.md §3: serialised documents are
// self-describing; meta is just another field).
func stampMeta(doc *fhirdoc.Document, versionID string, lastUpdated time.Time) {
	var metaObj *fhirdoc.Object
	if metaVal, ok := doc.Root.Get("meta"); ok {
		if obj, ok := metaVal.AsObject(); ok {
			metaObj = obj
		}
	}
	if metaObj == nil {
		metaObj = fhirdoc.NewObject()
	}
	metaObj.Set("versionId", fhirdoc.String(versionID))
	metaObj.Set("lastUpdated", fhirdoc.String(lastUpdated.UTC().Format(time.RFC3339Nano)))
	doc.Root.Set("meta", fhirdoc.ObjectValue(metaObj))
}

func readVersionID(doc *fhirdoc.Document) (string, bool) {
	metaVal, ok := doc.Root.Get("meta")
	if !ok {
		return "", false
	}
	metaObj, ok := metaVal.AsObject()
	if !ok {
		return "", false
	}
	v, ok := metaObj.Get("versionId")
	if !ok {
		return "", false
	}
	return v.AsString()
}
