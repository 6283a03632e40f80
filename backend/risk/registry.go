package risk

import "github.com/alexherrero/sherwood/backend/models"

// Registry is a tagged-dispatch table of rule evaluators keyed by rule
// type: a lookup by tag rather than a type switch.
type Registry struct {
	evaluators map[models.RuleType]RuleEvaluator
}

// NewRegistry builds a registry seeded with the built-in rule catalog.
func NewRegistry() *Registry {
	evaluators := make(map[models.RuleType]RuleEvaluator, len(defaultRegistry))
	for k, v := range defaultRegistry {
		evaluators[k] = v
	}
	return &Registry{evaluators: evaluators}
}

// Register adds or overrides the evaluator for ruleType.
func (r *Registry) Register(ruleType models.RuleType, evaluator RuleEvaluator) {
	r.evaluators[ruleType] = evaluator
}

// Lookup returns the evaluator for ruleType, if any.
func (r *Registry) Lookup(ruleType models.RuleType) (RuleEvaluator, bool) {
	ev, ok := r.evaluators[ruleType]
	return ev, ok
}
