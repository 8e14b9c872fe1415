package search

import (
	"net/url"
	"testing"
)

func mustParseQuery(t *testing.T, resourceType, raw string) *Request {
	t.Helper()
	values, err := url.ParseQuery(raw)
	if err != nil {
		t.Fatalf("url.ParseQuery: %v", err)
	}
	req, err := ParseQuery(resourceType, values)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	return req
}

func TestParseQueryControlParams(t *testing.T) {
	req := mustParseQuery(t, "Patient", "_count=5&_offset=10&_sort=-birthdate,name&_total=accurate")
	if req.Count != 5 {
		t.Errorf("Count = %d, want 5", req.Count)
	}
	if req.Offset != 10 {
		t.Errorf("Offset = %d, want 10", req.Offset)
	}
	if req.Total != TotalAccurate {
		t.Errorf("Total = %q, want accurate", req.Total)
	}
	if len(req.Sort) != 2 {
		t.Fatalf("expected 2 sort rules, got %d", len(req.Sort))
	}
	if req.Sort[0].Code != "birthdate" || !req.Sort[0].Descending {
		t.Errorf("Sort[0] = %+v, want descending birthdate", req.Sort[0])
	}
	if req.Sort[1].Code != "name" || req.Sort[1].Descending {
		t.Errorf("Sort[1] = %+v, want ascending name", req.Sort[1])
	}
}

func TestParseQueryCountCapped(t *testing.T) {
	req := mustParseQuery(t, "Patient", "_count=5000")
	if req.Count != maxCount {
		t.Errorf("Count = %d, want capped to %d", req.Count, maxCount)
	}
}

func TestParseQueryPrefixAndModifier(t *testing.T) {
	req := mustParseQuery(t, "Observation", "value-quantity=gt5.0&status:not=final")
	var byCode = map[string]Param{}
	for _, p := range req.Params {
		byCode[p.Code] = p
	}
	vq, ok := byCode["value-quantity"]
	if !ok {
		t.Fatalf("expected value-quantity param")
	}
	if len(vq.Values) != 1 || vq.Values[0].Prefix != PrefixGt || vq.Values[0].Raw != "5.0" {
		t.Errorf("value-quantity values = %+v", vq.Values)
	}
	status, ok := byCode["status"]
	if !ok {
		t.Fatalf("expected status param")
	}
	if status.Modifier != ModifierNot {
		t.Errorf("status modifier = %q, want not", status.Modifier)
	}
}

func TestParseQueryBareChain(t *testing.T) {
	req := mustParseQuery(t, "Observation", "subject.name=Smith")
	if len(req.Params) != 1 {
		t.Fatalf("expected 1 param, got %d", len(req.Params))
	}
	p := req.Params[0]
	if p.Code != "subject" || p.Chain != "name" {
		t.Errorf("chain param = %+v", p)
	}
}

func TestParseQueryExplicitChain(t *testing.T) {
	req := mustParseQuery(t, "Observation", "subject:Patient.gender=male")
	if len(req.Params) != 1 {
		t.Fatalf("expected 1 param, got %d", len(req.Params))
	}
	p := req.Params[0]
	if p.Code != "subject" || p.Chain != "gender" || p.ChainTargetType != "Patient" {
		t.Errorf("chain param = %+v", p)
	}
}

func TestParseQueryIncludeAndRevInclude(t *testing.T) {
	req := mustParseQuery(t, "Observation", "_include=Observation:subject:Patient&_revinclude=Provenance:target")
	if len(req.Include) != 1 || req.Include[0] != "Observation:subject:Patient" {
		t.Errorf("Include = %+v", req.Include)
	}
	if len(req.RevInclude) != 1 || req.RevInclude[0] != "Provenance:target" {
		t.Errorf("RevInclude = %+v", req.RevInclude)
	}
}

func TestParseQueryIncludeIterateModifierIsKeptSeparate(t *testing.T) {
	req := mustParseQuery(t, "Patient", "_include=Patient:organization&_include:iterate=Organization:partof&_revinclude:iterate=Observation:subject")
	if len(req.Include) != 1 || req.Include[0] != "Patient:organization" {
		t.Errorf("Include = %+v", req.Include)
	}
	if len(req.IncludeIter) != 1 || req.IncludeIter[0] != "Organization:partof" {
		t.Errorf("IncludeIter = %+v", req.IncludeIter)
	}
	if len(req.RevInclude) != 0 {
		t.Errorf("RevInclude = %+v, want none", req.RevInclude)
	}
	if len(req.RevIncludeIter) != 1 || req.RevIncludeIter[0] != "Observation:subject" {
		t.Errorf("RevIncludeIter = %+v", req.RevIncludeIter)
	}
}

func TestParseIncludeSpecTargetTypeOptional(t *testing.T) {
	spec, err := ParseIncludeSpec("Observation:subject:Patient")
	if err != nil {
		t.Fatalf("ParseIncludeSpec: %v", err)
	}
	if spec.SourceType != "Observation" || spec.Code != "subject" || spec.TargetType != "Patient" {
		t.Errorf("spec = %+v", spec)
	}

	spec, err = ParseIncludeSpec("Provenance:target")
	if err != nil {
		t.Fatalf("ParseIncludeSpec: %v", err)
	}
	if spec.TargetType != "" {
		t.Errorf("expected empty target type for 2-part form, got %q", spec.TargetType)
	}
}

func TestParseQueryInvalidTotalRejected(t *testing.T) {
	values, _ := url.ParseQuery("_total=bogus")
	if _, err := ParseQuery("Patient", values); err == nil {
		t.Fatal("expected error for invalid _total value")
	}
}
