package core

import (
	"context"
	"errors"
	"testing"
)

func TestRealizeAllFetchesEachUnitOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	mustNoError(t, "realize", RealizeAll(ctx, fx.store, 3))
	if got := fx.source.calls.Load(); got != int32(fx.store.Len()) {
		t.Fatalf("expected %d fetches, got %d", fx.store.Len(), got)
	}
	for key, u := range fx.store.All() {
		if !u.Realized() {
			t.Fatalf("%s not realized", key)
		}
	}
	mustNoError(t, "realize again", RealizeAll(ctx, fx.store, 0))
	if got := fx.source.calls.Load(); got != int32(fx.store.Len()) {
		t.Fatalf("second pass must not fetch, got %d calls", got)
	}
}

func TestRealizeAllPropagatesFailure(t *testing.T) {
	fx := newFixture(t)
	fx.source.fail = errBoom
	if err := RealizeAll(context.Background(), fx.store, 2); !errors.Is(err, errBoom) {
		t.Fatalf("expected fetch failure, got %v", err)
	}
	if err := RealizeAll(context.Background(), nil, 1); err == nil {
		t.Fatalf("expected nil store error")
	}
}

func TestServiceRealizeCountsUnits(t *testing.T) {
	fx := newFixture(t)
	rec := NewExpvarMetricsRecorder("")
	svc := NewService(WithMetricsRecorder(rec))
	mustNoError(t, "realize", svc.Realize(context.Background(), fx.store))
	snap := rec.Snapshot()
	if snap.Items[opRealize][OutcomeRealized] != int64(fx.store.Len()) {
		t.Fatalf("unexpected item counts %+v", snap.Items)
	}
	if snap.Results[opRealize]["success"] != 1 {
		t.Fatalf("unexpected results %+v", snap.Results)
	}
}
