package core

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"blendcore/pkg/domain"
	"blendcore/pkg/pipelineapi"
)

const opDeblend = "deblend"

// DeblendReport is the outcome of one deblender run.
type DeblendReport struct {
	// Store holds the deblended units. Units the deblender left alone alias
	// the input store.
	Store *domain.Store
	// Errors lists failed exposures under the collect policy.
	Errors []domain.ItemError
	// Transitions holds the non-blocking rule findings.
	Transitions domain.Result
}

// Deblend runs d over store. The deblender's capability selects the joint or
// per-exposure path; the output is checked against the registered rules and
// any blocking finding is returned as a NeighborInvariantViolation.
func (s *Service) Deblend(ctx context.Context, d pipelineapi.Deblender, store *domain.Store) (DeblendReport, error) {
	if d == nil {
		return DeblendReport{}, errors.New("deblender cannot be nil")
	}
	if store == nil {
		return DeblendReport{}, errors.New("store cannot be nil")
	}
	run, err := s.deblendPath(d)
	if err != nil {
		return DeblendReport{}, err
	}

	var report DeblendReport
	err = s.instrument(ctx, opDeblend, func(ctx context.Context) error {
		s.logger.Info().
			Str("deblender", d.Name()).
			Str("capability", string(d.Capability())).
			Int("units", store.Len()).
			Msg("deblend started")

		out, itemErrs, err := run(ctx, store)
		if err != nil {
			return err
		}
		transition := domain.Transition{Before: store, After: out}
		res, err := s.rules.Evaluate(ctx, transition)
		if err != nil {
			return fmt.Errorf("deblender %s: evaluate rules: %w", d.Name(), err)
		}
		if res.HasBlocking() {
			return domain.NeighborInvariantViolation{Result: res}
		}

		report = DeblendReport{Store: out, Errors: itemErrs, Transitions: res}
		for _, v := range res.Violations {
			ev := s.logger.Debug()
			if v.Severity == domain.SeverityWarn {
				ev = s.logger.Warn()
			}
			ev.Str("rule", v.Rule).Str("key", v.Key.String()).Msg(v.Message)
		}

		changed := len(changedUnits(transition))
		s.metrics.CountItems(ctx, opDeblend, OutcomeChanged, changed)
		s.metrics.CountItems(ctx, opDeblend, OutcomeUnchanged, out.Len()-changed)
		s.metrics.CountItems(ctx, opDeblend, OutcomeFailed, len(itemErrs))
		s.logger.Info().
			Str("deblender", d.Name()).
			Int("changed", changed).
			Int("failed_exposures", len(itemErrs)).
			Msg("deblend finished")
		return nil
	})
	if err != nil {
		return DeblendReport{}, err
	}
	return report, nil
}

type deblendFunc func(context.Context, *domain.Store) (*domain.Store, []domain.ItemError, error)

// deblendPath resolves the run function for d's advertised capability before
// any work starts.
func (s *Service) deblendPath(d pipelineapi.Deblender) (deblendFunc, error) {
	switch d.Capability() {
	case pipelineapi.CapabilityJoint:
		jd, ok := d.(pipelineapi.JointDeblender)
		if !ok {
			return nil, domain.UnimplementedCapabilityError{Stage: "deblender", Name: d.Name(), Capability: string(d.Capability())}
		}
		return func(ctx context.Context, store *domain.Store) (*domain.Store, []domain.ItemError, error) {
			out, err := jd.DeblendJoint(ctx, store)
			if err != nil {
				return nil, nil, fmt.Errorf("deblender %s: %w", d.Name(), err)
			}
			return out, nil, nil
		}, nil
	case pipelineapi.CapabilityPerUnit:
		ed, ok := d.(pipelineapi.ExposureDeblender)
		if !ok {
			return nil, domain.UnimplementedCapabilityError{Stage: "deblender", Name: d.Name(), Capability: string(d.Capability())}
		}
		policy := pipelineapi.PolicyOf(d)
		return func(ctx context.Context, store *domain.Store) (*domain.Store, []domain.ItemError, error) {
			return s.deblendExposures(ctx, ed, policy, store)
		}, nil
	default:
		return nil, domain.UnimplementedCapabilityError{Stage: "deblender", Name: d.Name(), Capability: string(d.Capability())}
	}
}

// deblendExposures runs d once per exposure with bounded parallelism and
// recombines the changed units into one store.
func (s *Service) deblendExposures(ctx context.Context, d pipelineapi.ExposureDeblender, policy pipelineapi.FailurePolicy, store *domain.Store) (*domain.Store, []domain.ItemError, error) {
	index := store.ByExposure()
	ids := index.IDs()
	replaced := make([]map[domain.Key]*domain.Unit, len(ids))
	failed := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, id := range ids {
		slice, _ := index.Get(id)
		g.Go(func() error {
			out, err := d.DeblendExposure(gctx, slice)
			if err != nil {
				if policy == pipelineapi.PolicyCollect {
					failed[i] = err
					return nil
				}
				return fmt.Errorf("deblender %s: exposure %s: %w", d.Name(), id, err)
			}
			changes, err := sliceChanges(slice, out)
			if err != nil {
				return err
			}
			replaced[i] = changes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var itemErrs []domain.ItemError
	all := make(map[domain.Key]*domain.Unit)
	for i, id := range ids {
		if failed[i] != nil {
			itemErrs = append(itemErrs, domain.ItemError{Item: string(id), Err: failed[i]})
			s.logger.Warn().
				Err(failed[i]).
				Str("deblender", d.Name()).
				Str("exposure", string(id)).
				Msg("exposure deblend failed; keeping input units")
			continue
		}
		for key, u := range replaced[i] {
			all[key] = u
		}
	}
	domain.SortItemErrors(itemErrs)

	out, err := store.WithReplacements(all)
	if err != nil {
		return nil, nil, fmt.Errorf("deblender %s: %w", d.Name(), err)
	}
	return out, itemErrs, nil
}

// sliceChanges returns the units of out that differ from in. A slice for
// another exposure or with a different object set breaks the key-set
// invariant.
func sliceChanges(in, out domain.ExposureSlice) (map[domain.Key]*domain.Unit, error) {
	var res domain.Result
	if out.Exposure() != in.Exposure() {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "key_set",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("exposure %s returned as %q", in.Exposure(), out.Exposure()),
		})
		return nil, domain.NeighborInvariantViolation{Result: res}
	}
	for _, id := range in.IDs() {
		if _, ok := out.Get(id); !ok {
			res.Violations = append(res.Violations, keySetViolation(domain.Key{Exposure: in.Exposure(), Object: id}, "unit missing from deblend output"))
		}
	}
	for _, id := range out.IDs() {
		if _, ok := in.Get(id); !ok {
			res.Violations = append(res.Violations, keySetViolation(domain.Key{Exposure: in.Exposure(), Object: id}, "unit not present in deblend input"))
		}
	}
	if res.HasBlocking() {
		return nil, domain.NeighborInvariantViolation{Result: res}
	}

	changes := make(map[domain.Key]*domain.Unit)
	for id, u := range out.All() {
		before, _ := in.Get(id)
		if u != before {
			changes[domain.Key{Exposure: in.Exposure(), Object: id}] = u
		}
	}
	return changes, nil
}
