package core

import (
	"context"

	"blendcore/pkg/domain"
)

// RegionShrinkRule forbids a deblend from growing a unit's region.
func RegionShrinkRule() domain.Rule {
	return regionShrinkRule{}
}

type regionShrinkRule struct{}

func (regionShrinkRule) Name() string { return "region_shrink" }

func (regionShrinkRule) Evaluate(ctx context.Context, t domain.Transition) (domain.Result, error) {
	return evaluatePairs(ctx, t, func(p unitPair, res *domain.Result) {
		if p.before.Region().ContainsRegion(p.after.Region()) {
			return
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "region_shrink",
			Severity: domain.SeverityBlock,
			Message:  "region grew beyond its previous footprint",
			Key:      p.key,
		})
	})
}
