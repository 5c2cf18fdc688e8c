package core

import (
	"context"
	"fmt"
	"sort"

	"blendcore/pkg/domain"
)

// KeySetRule requires a deblend to return exactly the keys and object table
// it was given.
func KeySetRule() domain.Rule {
	return keySetRule{}
}

type keySetRule struct{}

func (keySetRule) Name() string { return "key_set" }

func (keySetRule) Evaluate(_ context.Context, t domain.Transition) (domain.Result, error) {
	res := domain.Result{}
	if t.Before == nil || t.After == nil {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "key_set",
			Severity: domain.SeverityBlock,
			Message:  "deblend returned no store",
		})
		return res, nil
	}

	after := make(map[domain.Key]struct{}, t.After.Len())
	for _, key := range t.After.Keys() {
		after[key] = struct{}{}
	}
	for _, key := range t.Before.Keys() {
		if _, ok := after[key]; ok {
			delete(after, key)
			continue
		}
		res.Violations = append(res.Violations, keySetViolation(key, "unit missing from deblend output"))
	}
	for _, key := range sortedKeys(after) {
		res.Violations = append(res.Violations, keySetViolation(key, "unit not present in deblend input"))
	}

	if !sameTable(t.Before.Objects(), t.After.Objects()) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "key_set",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("object table changed: %d objects before, %d after", t.Before.Objects().Len(), t.After.Objects().Len()),
		})
	}
	return res, nil
}

func keySetViolation(key domain.Key, message string) domain.Violation {
	return domain.Violation{
		Rule:     "key_set",
		Severity: domain.SeverityBlock,
		Message:  message,
		Key:      key,
	}
}

func sortedKeys(set map[domain.Key]struct{}) []domain.Key {
	out := make([]domain.Key, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// sameTable reports whether two tables hold the same record instances.
func sameTable(a, b domain.ObjectTable) bool {
	if a.Len() != b.Len() {
		return false
	}
	for _, id := range a.IDs() {
		ra, _ := a.Get(id)
		rb, ok := b.Get(id)
		if !ok || ra != rb {
			return false
		}
	}
	return true
}
