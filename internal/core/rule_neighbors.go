package core

import (
	"context"
	"fmt"

	"blendcore/pkg/domain"
)

// NeighborUniverseRule requires every neighbor to name an object of the
// table other than the unit's own object.
func NeighborUniverseRule() domain.Rule {
	return neighborUniverseRule{}
}

type neighborUniverseRule struct{}

func (neighborUniverseRule) Name() string { return "neighbor_universe" }

func (neighborUniverseRule) Evaluate(ctx context.Context, t domain.Transition) (domain.Result, error) {
	res := domain.Result{}
	if t.After == nil {
		return res, nil
	}
	objects := t.After.Objects()
	for key, unit := range t.After.All() {
		if err := ctx.Err(); err != nil {
			return domain.Result{}, err
		}
		for _, id := range unit.Neighbors() {
			switch {
			case id == key.Object:
				res.Violations = append(res.Violations, neighborViolation("neighbor_universe", key, "unit lists its own object as a neighbor"))
			case !objects.Has(id):
				res.Violations = append(res.Violations, neighborViolation("neighbor_universe", key, fmt.Sprintf("neighbor %s is not in the object table", id)))
			}
		}
	}
	return res, nil
}

// NeighborSubsetRule forbids a deblend from adding neighbors.
func NeighborSubsetRule() domain.Rule {
	return neighborSubsetRule{}
}

type neighborSubsetRule struct{}

func (neighborSubsetRule) Name() string { return "neighbor_subset" }

func (neighborSubsetRule) Evaluate(ctx context.Context, t domain.Transition) (domain.Result, error) {
	return evaluatePairs(ctx, t, func(p unitPair, res *domain.Result) {
		for _, id := range p.after.Neighbors() {
			if !p.before.HasNeighbor(id) {
				res.Violations = append(res.Violations, neighborViolation("neighbor_subset", p.key, fmt.Sprintf("neighbor %s was added", id)))
			}
		}
	})
}

// ChangeEvidenceRule requires every dropped neighbor to be backed by a pixel
// change or a region shrink. A replaced unit with nothing changed is
// reported as a warning.
func ChangeEvidenceRule() domain.Rule {
	return changeEvidenceRule{}
}

type changeEvidenceRule struct{}

func (changeEvidenceRule) Name() string { return "change_evidence" }

func (changeEvidenceRule) Evaluate(ctx context.Context, t domain.Transition) (domain.Result, error) {
	return evaluatePairs(ctx, t, func(p unitPair, res *domain.Result) {
		var dropped []domain.ObjectID
		for _, id := range p.before.Neighbors() {
			if !p.after.HasNeighbor(id) {
				dropped = append(dropped, id)
			}
		}
		pixels := pixelsChanged(p.before, p.after)
		shrunk := !p.after.Region().Equal(p.before.Region())
		if len(dropped) > 0 && !pixels && !shrunk {
			res.Violations = append(res.Violations, neighborViolation("change_evidence", p.key,
				fmt.Sprintf("neighbors %v dropped without a pixel or region change", dropped)))
			return
		}
		if len(dropped) == 0 && !pixels && !shrunk {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "change_evidence",
				Severity: domain.SeverityWarn,
				Message:  "unit replaced without observable change",
				Key:      p.key,
			})
		}
	})
}

func pixelsChanged(before, after *domain.Unit) bool {
	pa, err := after.Pixels()
	if err != nil {
		return false
	}
	pb, err := before.Pixels()
	if err != nil {
		return true
	}
	return !pa.Equal(pb)
}

// SeparationTransitionRule logs units whose separation state advanced.
func SeparationTransitionRule() domain.Rule {
	return separationTransitionRule{}
}

type separationTransitionRule struct{}

func (separationTransitionRule) Name() string { return "separation_transition" }

func (separationTransitionRule) Evaluate(ctx context.Context, t domain.Transition) (domain.Result, error) {
	return evaluatePairs(ctx, t, func(p unitPair, res *domain.Result) {
		from, to := p.before.State(), p.after.State()
		if from == to {
			return
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "separation_transition",
			Severity: domain.SeverityLog,
			Message:  fmt.Sprintf("%s -> %s", from, to),
			Key:      p.key,
		})
	})
}

func neighborViolation(rule string, key domain.Key, message string) domain.Violation {
	return domain.Violation{
		Rule:     rule,
		Severity: domain.SeverityBlock,
		Message:  message,
		Key:      key,
	}
}
