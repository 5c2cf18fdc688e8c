package core

import (
	"context"

	"blendcore/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in deblend
// invariants.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(KeySetRule())
	engine.Register(NeighborUniverseRule())
	engine.Register(NeighborSubsetRule())
	engine.Register(RegionShrinkRule())
	engine.Register(ChangeEvidenceRule())
	engine.Register(SeparationTransitionRule())
	return engine
}

// unitPair is a unit before and after a deblend. Identical pointers are
// never yielded.
type unitPair struct {
	key    domain.Key
	before *domain.Unit
	after  *domain.Unit
}

// changedUnits walks the keys present on both sides of a transition and
// returns the pairs whose unit instance differs.
func changedUnits(t domain.Transition) []unitPair {
	if t.Before == nil || t.After == nil {
		return nil
	}
	var out []unitPair
	for _, key := range t.Before.Keys() {
		before, err := t.Before.Lookup(key)
		if err != nil {
			continue
		}
		after, err := t.After.Lookup(key)
		if err != nil || after == before {
			continue
		}
		out = append(out, unitPair{key: key, before: before, after: after})
	}
	return out
}

// evaluatePairs runs check over every changed unit, stopping on context
// cancellation.
func evaluatePairs(ctx context.Context, t domain.Transition, check func(unitPair, *domain.Result)) (domain.Result, error) {
	res := domain.Result{}
	for _, pair := range changedUnits(t) {
		if err := ctx.Err(); err != nil {
			return domain.Result{}, err
		}
		check(pair, &res)
	}
	return res, nil
}
