package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"blendcore/pkg/domain"
	"blendcore/pkg/pipelineapi"
	"blendcore/pkg/resultapi"
)

const opFit = "fit"

// FitReport is the outcome of one fitter run.
type FitReport struct {
	Results map[domain.ObjectID]domain.AlgorithmResult
	// Errors lists objects omitted from Results under the collect policy.
	Errors []domain.ItemError
}

// IDs returns the fitted object ids in ascending order.
func (r FitReport) IDs() []domain.ObjectID {
	out := make([]domain.ObjectID, 0, len(r.Results))
	for id := range r.Results {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Fit runs f over the by-object view of store. Every result is validated
// against its own schema and must report the object it was produced for.
func (s *Service) Fit(ctx context.Context, f pipelineapi.Fitter, store *domain.Store) (FitReport, error) {
	if f == nil {
		return FitReport{}, errors.New("fitter cannot be nil")
	}
	if store == nil {
		return FitReport{}, errors.New("store cannot be nil")
	}
	var run func(context.Context, domain.ObjectIndex, pipelineapi.FailurePolicy) (FitReport, error)
	switch f.Capability() {
	case pipelineapi.CapabilityJoint:
		jf, ok := f.(pipelineapi.JointFitter)
		if !ok {
			return FitReport{}, domain.UnimplementedCapabilityError{Stage: "fitter", Name: f.Name(), Capability: string(f.Capability())}
		}
		run = func(ctx context.Context, index domain.ObjectIndex, policy pipelineapi.FailurePolicy) (FitReport, error) {
			return s.fitJoint(ctx, jf, index, policy)
		}
	case pipelineapi.CapabilityPerUnit:
		of, ok := f.(pipelineapi.ObjectFitter)
		if !ok {
			return FitReport{}, domain.UnimplementedCapabilityError{Stage: "fitter", Name: f.Name(), Capability: string(f.Capability())}
		}
		run = func(ctx context.Context, index domain.ObjectIndex, policy pipelineapi.FailurePolicy) (FitReport, error) {
			return s.fitObjects(ctx, of, index, policy)
		}
	default:
		return FitReport{}, domain.UnimplementedCapabilityError{Stage: "fitter", Name: f.Name(), Capability: string(f.Capability())}
	}

	policy := pipelineapi.PolicyOf(f)
	var report FitReport
	err := s.instrument(ctx, opFit, func(ctx context.Context) error {
		index := store.ByObject()
		s.logger.Info().
			Str("fitter", f.Name()).
			Str("capability", string(f.Capability())).
			Str("policy", string(policy)).
			Int("objects", index.Len()).
			Msg("fit started")
		var err error
		report, err = run(ctx, index, policy)
		if err != nil {
			return err
		}
		for _, ie := range report.Errors {
			s.logger.Warn().Err(ie.Err).Str("fitter", f.Name()).Str("object", ie.Item).Msg("object fit failed")
		}
		s.metrics.CountItems(ctx, opFit, OutcomeFitted, len(report.Results))
		s.metrics.CountItems(ctx, opFit, OutcomeFailed, len(report.Errors))
		s.logger.Info().
			Str("fitter", f.Name()).
			Int("fitted", len(report.Results)).
			Int("failed", len(report.Errors)).
			Msg("fit finished")
		return nil
	})
	if err != nil {
		return FitReport{}, err
	}
	return report, nil
}

func (s *Service) fitJoint(ctx context.Context, f pipelineapi.JointFitter, index domain.ObjectIndex, policy pipelineapi.FailurePolicy) (FitReport, error) {
	results, err := f.FitJoint(ctx, index)
	if err != nil {
		return FitReport{}, fmt.Errorf("fitter %s: %w", f.Name(), err)
	}
	if mismatch := keyMismatch(index.IDs(), results); mismatch != nil {
		return FitReport{}, fmt.Errorf("fitter %s: %w", f.Name(), *mismatch)
	}
	report := FitReport{Results: make(map[domain.ObjectID]domain.AlgorithmResult, len(results))}
	for _, id := range index.IDs() {
		r := results[id]
		if err := checkResult(id, r); err != nil {
			if policy != pipelineapi.PolicyCollect {
				return FitReport{}, fmt.Errorf("fitter %s: %w", f.Name(), err)
			}
			report.Errors = append(report.Errors, domain.ItemError{Item: string(id), Err: err})
			continue
		}
		report.Results[id] = r
	}
	return report, nil
}

func (s *Service) fitObjects(ctx context.Context, f pipelineapi.ObjectFitter, index domain.ObjectIndex, policy pipelineapi.FailurePolicy) (FitReport, error) {
	ids := index.IDs()
	results := make([]domain.AlgorithmResult, len(ids))
	failed := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, id := range ids {
		slice, _ := index.Get(id)
		g.Go(func() error {
			r, err := f.FitObject(gctx, slice)
			if err == nil {
				err = checkResult(id, r)
			}
			if err != nil {
				if policy == pipelineapi.PolicyCollect {
					failed[i] = err
					return nil
				}
				return fmt.Errorf("fitter %s: object %s: %w", f.Name(), id, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return FitReport{}, err
	}

	report := FitReport{Results: make(map[domain.ObjectID]domain.AlgorithmResult, len(ids))}
	for i, id := range ids {
		if failed[i] != nil {
			report.Errors = append(report.Errors, domain.ItemError{Item: string(id), Err: failed[i]})
			continue
		}
		report.Results[id] = results[i]
	}
	return report, nil
}

// checkResult validates one result produced for id.
func checkResult(id domain.ObjectID, r domain.AlgorithmResult) error {
	if r == nil {
		return fmt.Errorf("object %s: no result produced", id)
	}
	if r.ObjectID() != id {
		return fmt.Errorf("object %s: result reports object %q: %w", id, r.ObjectID(), domain.ErrResultKeyMismatch)
	}
	return resultapi.Validate(r)
}

// keyMismatch compares result keys against the expected ids.
func keyMismatch(want []domain.ObjectID, got map[domain.ObjectID]domain.AlgorithmResult) *domain.ResultKeyMismatchError {
	expected := make(map[domain.ObjectID]struct{}, len(want))
	var mismatch domain.ResultKeyMismatchError
	for _, id := range want {
		expected[id] = struct{}{}
		if _, ok := got[id]; !ok {
			mismatch.Missing = append(mismatch.Missing, id)
		}
	}
	for id := range got {
		if _, ok := expected[id]; !ok {
			mismatch.Unexpected = append(mismatch.Unexpected, id)
		}
	}
	if len(mismatch.Missing) == 0 && len(mismatch.Unexpected) == 0 {
		return nil
	}
	sort.Slice(mismatch.Unexpected, func(i, j int) bool { return mismatch.Unexpected[i] < mismatch.Unexpected[j] })
	return &mismatch
}
