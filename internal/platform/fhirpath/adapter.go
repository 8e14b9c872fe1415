package fhirpath

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fhirstore/fhirstore/internal/platform/fhirdoc"
)

// Evaluator adapts the generic Engine to the core's two FHIRPath
// collaborator interfaces: indexer.PathEvaluator (spec.md §4.2) and
// validator.ConstraintEvaluator (spec.md §4.5). It converts between
// fhirdoc.Value and the map[string]interface{}/[]interface{} shape the
// Engine evaluates against.
type Evaluator struct {
	engine *Engine
}

// NewEvaluator builds an Evaluator around a fresh Engine.
func NewEvaluator() *Evaluator {
	return &Evaluator{engine: New()}
}

// Evaluate implements indexer.PathEvaluator: it runs expression against
// doc and converts the resulting collection back into fhirdoc.Values.
func (e *Evaluator) Evaluate(doc *fhirdoc.Document, expression string) ([]fhirdoc.Value, error) {
	if doc == nil {
		return nil, nil
	}
	resource := toMap(fhirdoc.ObjectValue(doc.Root))
	raw, err := e.engine.Evaluate(resource, expression)
	if err != nil {
		return nil, err
	}
	out := make([]fhirdoc.Value, 0, len(raw))
	for _, v := range raw {
		out = append(out, fromGeneric(v))
	}
	return out, nil
}

// EvaluateOnValue runs expression with node bound as the evaluation
// root, for constraint expressions that are scoped to a single element
// rather than the whole resource (e.g. slicing discriminators,
// StructureDefinition invariants attached below the resource root).
func (e *Evaluator) EvaluateOnValue(node fhirdoc.Value, expression string) (bool, error) {
	root := toMap(node)
	return e.engine.EvaluateBool(root, expression)
}

// ConstraintAdapter implements validator.ConstraintEvaluator on top of an
// Evaluator. It is a distinct type from Evaluator because the two
// collaborator interfaces (indexer.PathEvaluator and
// validator.ConstraintEvaluator) both name their single method Evaluate
// with incompatible signatures, so one Go type cannot satisfy both.
type ConstraintAdapter struct {
	*Evaluator
}

// NewConstraintAdapter wraps eval for use as a validator.ConstraintEvaluator.
func NewConstraintAdapter(eval *Evaluator) ConstraintAdapter {
	return ConstraintAdapter{Evaluator: eval}
}

// Evaluate implements validator.ConstraintEvaluator. node is whatever
// the validator is currently walking: a *fhirdoc.Document for
// resource-level invariants, or a fhirdoc.Value for an element-level
// one. ctx carries no deadline here since evaluation is pure and
// in-process; it is accepted only to satisfy the interface.
func (c ConstraintAdapter) Evaluate(_ context.Context, expression string, node interface{}) (bool, error) {
	switch n := node.(type) {
	case *fhirdoc.Document:
		if n == nil {
			return false, nil
		}
		return c.engine.EvaluateBool(toMap(fhirdoc.ObjectValue(n.Root)), expression)
	case fhirdoc.Value:
		return c.EvaluateOnValue(n, expression)
	default:
		return c.engine.EvaluateBool(map[string]interface{}{}, expression)
	}
}

// toMap converts a fhirdoc object Value into the map[string]interface{}
// shape the Engine understands; non-object values convert to their
// scalar form wrapped where necessary by toGeneric's array/object
// recursion.
func toMap(v fhirdoc.Value) map[string]interface{} {
	obj, ok := v.AsObject()
	if !ok {
		return map[string]interface{}{}
	}
	m := make(map[string]interface{}, len(obj.Fields()))
	for _, f := range obj.Fields() {
		m[f.Key] = toGeneric(f.Value)
	}
	return m
}

// toGeneric converts a fhirdoc.Value into the plain interface{} shapes
// (map[string]interface{}, []interface{}, string, float64, bool, nil)
// the FHIRPath Engine evaluates against, matching the shape
// encoding/json would have produced for the same document. Numbers
// convert via decimal.Decimal's Float64 so that a fixed/pattern literal
// decoded straight from JSON and a document value parsed through
// fhirdoc compare equal.
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
	case fhirdoc.KindObject:
		return toMap(v)
	case fhirdoc.KindArray:
		arr, _ := v.AsArray()
		out := make([]interface{}, 0, len(arr))
		for _, item := range arr {
			out = append(out, toGeneric(item))
		}
		return out
	default:
		return nil
	}
}

// fromGeneric converts an Engine evaluation result back into a
// fhirdoc.Value, the inverse of toGeneric, for indexer.PathEvaluator's
// return shape.
func fromGeneric(v interface{}) fhirdoc.Value {
	switch n := v.(type) {
	case nil:
		return fhirdoc.Null()
	case bool:
		return fhirdoc.Bool(n)
	case string:
		return fhirdoc.String(n)
	case float64:
		return fhirdoc.Number(decimal.NewFromFloat(n))
	case int64:
		return fhirdoc.NumberFromInt(n)
	case int:
		return fhirdoc.NumberFromInt(int64(n))
	case map[string]interface{}:
		obj := fhirdoc.NewObject()
		for k, val := range n {
			obj.Set(k, fromGeneric(val))
		}
		return fhirdoc.ObjectValue(obj)
	case []interface{}:
		out := make([]fhirdoc.Value, 0, len(n))
		for _, item := range n {
			out = append(out, fromGeneric(item))
		}
		return fhirdoc.ArrayValue(out)
	default:
		return fhirdoc.Null()
	}
}
