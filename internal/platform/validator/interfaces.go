package validator

import "context"

// ConstraintEvaluator evaluates a FHIRPath invariant expression against
// the node it is attached to, returning its boolean result. Constraint
// evaluation is an external collaborator per spec.md §6 — the validator
// itself never implements a FHIRPath engine.
type ConstraintEvaluator interface {
	Evaluate(ctx context.Context, expression string, node interface{}) (bool, error)
}

// ReferenceChecker reports whether a reference to resourceType/id exists
// and, if so, which profile it conforms to (for profile-discriminator
// slicing and Reference.targetProfile checking). Also an external
// collaborator per spec.md §6: the validator never queries storage
// itself.
type ReferenceChecker interface {
	Exists(ctx context.Context, resourceType, id string) (bool, error)
	ProfileOf(ctx context.Context, resourceType, id string) (string, bool, error)
}

// NoopConstraintEvaluator treats every invariant as satisfied. Useful
// when FHIRPath evaluation is not wired (e.g. local development without
// a terminology/FHIRPath sidecar).
type NoopConstraintEvaluator struct{}

func (NoopConstraintEvaluator) Evaluate(context.Context, string, interface{}) (bool, error) {
	return true, nil
}

// NoopReferenceChecker reports every reference as existing, so no
// not-found warning is raised, and knows no profile for any of them.
type NoopReferenceChecker struct{}

func (NoopReferenceChecker) Exists(context.Context, string, string) (bool, error) {
	return true, nil
}

func (NoopReferenceChecker) ProfileOf(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}
