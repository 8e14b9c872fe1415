package search

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	coreerrors "github.com/fhirstore/fhirstore/internal/platform/errors"
)

const (
	defaultCount = 20
	maxCount     = 1000
)

var valuePrefixes = map[string]Prefix{
	"eq": PrefixEq, "ne": PrefixNe, "lt": PrefixLt, "gt": PrefixGt,
	"le": PrefixLe, "ge": PrefixGe, "sa": PrefixSa, "eb": PrefixEb, "ap": PrefixAp,
}

// ParseQuery parses a `/{Type}?...` query string into a Request, per the
// grammar of spec.md §6. It never consults the registries: unknown
// parameter names are left for the Compiler to classify as a warning or
// an InvalidSearchRequest (spec.md §4.4 Failure modes), since that
// classification depends on the resource type's registered parameters.
func ParseQuery(resourceType string, q url.Values) (*Request, error) {
	req := &Request{ResourceType: resourceType, Count: defaultCount, Total: TotalNone}

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		values := q[key]
		name, modifierPart := splitModifier(key)

		switch name {
		case "_count":
			n, err := strconv.Atoi(first(values))
			if err != nil || n < 0 {
				return nil, coreerrors.New(coreerrors.InvalidSearchRequest, "invalid _count %q", first(values))
			}
			if n > maxCount {
				n = maxCount
			}
			req.Count = n
			continue
		case "_offset":
			n, err := strconv.Atoi(first(values))
			if err != nil || n < 0 {
				return nil, coreerrors.New(coreerrors.InvalidSearchRequest, "invalid _offset %q", first(values))
			}
			req.Offset = n
			continue
		case "_sort":
			for _, part := range strings.Split(first(values), ",") {
				if part == "" {
					continue
				}
				desc := strings.HasPrefix(part, "-")
				req.Sort = append(req.Sort, SortRule{Code: strings.TrimPrefix(part, "-"), Descending: desc})
			}
			continue
		case "_total":
			switch TotalMode(first(values)) {
			case TotalNone, TotalEstimate, TotalAccurate:
				req.Total = TotalMode(first(values))
			default:
				return nil, coreerrors.New(coreerrors.InvalidSearchRequest, "invalid _total %q", first(values))
			}
			continue
		case "_include":
			if modifierPart == "iterate" {
				req.IncludeIter = append(req.IncludeIter, values...)
			} else {
				req.Include = append(req.Include, values...)
			}
			continue
		case "_revinclude":
			if modifierPart == "iterate" {
				req.RevIncludeIter = append(req.RevIncludeIter, values...)
			} else {
				req.RevInclude = append(req.RevInclude, values...)
			}
			continue
		}

		code, chain, chainTargetType, err := splitChain(name, modifierPart)
		if err != nil {
			return nil, err
		}
		modifier := Modifier("")
		if chain == "" {
			modifier = Modifier(modifierPart)
		}

		param := Param{Code: code, Modifier: modifier, Chain: chain, ChainTargetType: chainTargetType}
		for _, raw := range values {
			for _, v := range strings.Split(raw, ",") {
				param.Values = append(param.Values, parseValue(v))
			}
		}
		req.Params = append(req.Params, param)
	}
	return req, nil
}

// splitChain resolves the two chained-search forms against name and its
// raw modifier text: `a.b` (bare chain, target type inferred at compile
// time) and `a:TargetType.b` (explicit target type). Anything else
// leaves chain empty.
func splitChain(name, modifierPart string) (code, chain, chainTargetType string, err error) {
	if dot := strings.Index(modifierPart, "."); dot >= 0 {
		chainTargetType = modifierPart[:dot]
		chain = modifierPart[dot+1:]
		code = name
	} else if dot := strings.Index(name, "."); dot >= 0 {
		code = name[:dot]
		chain = name[dot+1:]
	} else {
		code = name
		return code, "", "", nil
	}
	if strings.Contains(chain, ".") {
		return "", "", "", coreerrors.New(coreerrors.InvalidSearchRequest, "chained search %q exceeds depth 1", name)
	}
	return code, chain, chainTargetType, nil
}

func splitModifier(key string) (string, string) {
	if idx := strings.IndexByte(key, ':'); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return key, ""
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func parseValue(raw string) Value {
	if len(raw) >= 2 {
		if p, ok := valuePrefixes[strings.ToLower(raw[:2])]; ok {
			return Value{Prefix: p, Raw: raw[2:]}
		}
	}
	return Value{Prefix: PrefixEq, Raw: raw}
}

// ParseCompartment builds the CompartmentFilter for the
// `/{Type}/{id}/{ResourceType}` compartment search form.
func ParseCompartment(ownerType, ownerID string) *CompartmentFilter {
	return &CompartmentFilter{ResourceType: ownerType, ID: ownerID}
}

// ParseIncludeSpec parses one `_include`/`_revinclude` value:
// `SourceType:code` or `SourceType:code:TargetType`.
func ParseIncludeSpec(raw string) (IncludeSpec, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) < 2 {
		return IncludeSpec{}, coreerrors.New(coreerrors.InvalidSearchRequest, "malformed include %q", raw)
	}
	spec := IncludeSpec{SourceType: parts[0], Code: parts[1]}
	if len(parts) == 3 {
		spec.TargetType = parts[2]
	}
	return spec, nil
}
