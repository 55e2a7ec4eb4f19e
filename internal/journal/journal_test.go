package journal

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/appmock/internal/core"
)

func openJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "journal.db")
	j, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("Open(\"\") = nil error")
	}
}

func TestRecordAndReadTransitions(t *testing.T) {
	t.Parallel()

	j, _ := openJournal(t)
	ctx := context.Background()
	at := time.Unix(1700000000, 42)

	steps := []core.Transition{
		{InstanceID: "a", Key: "k1", Kind: core.KindApp, From: core.StateCreated, To: core.StateLoading, At: at},
		{InstanceID: "b", Key: "k2", Kind: core.KindCluster, From: core.StateCreated, To: core.StateLoading, At: at},
		{InstanceID: "a", Key: "k1", Kind: core.KindApp, From: core.StateLoading, To: core.StateFailed, Err: "load error", At: at},
		{InstanceID: "a", Key: "k1", Kind: core.KindApp, From: core.StateFailed, To: core.StateClosing, At: at},
	}
	for _, s := range steps {
		if err := j.RecordTransition(ctx, s); err != nil {
			t.Fatalf("RecordTransition() = %v", err)
		}
	}

	got, err := j.Transitions(ctx, "a")
	if err != nil {
		t.Fatalf("Transitions() = %v", err)
	}
	want := []core.Transition{steps[0], steps[2], steps[3]}
	if len(got) != len(want) {
		t.Fatalf("got %d transitions, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].At.Equal(want[i].At) {
			t.Errorf("transition %d At = %v, want %v", i, got[i].At, want[i].At)
		}
		got[i].At, want[i].At = time.Time{}, time.Time{}
		if got[i] != want[i] {
			t.Errorf("transition %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if got, err := j.Transitions(ctx, "missing"); err != nil || len(got) != 0 {
		t.Errorf("Transitions(missing) = %v, %v", got, err)
	}
}

func TestFailed(t *testing.T) {
	t.Parallel()

	j, _ := openJournal(t)
	ctx := context.Background()

	record := func(id string, to core.State) {
		t.Helper()
		if err := j.RecordTransition(ctx, core.Transition{InstanceID: id, To: to}); err != nil {
			t.Fatal(err)
		}
	}
	record("ok", core.StateReady)
	record("ok", core.StateClosed)
	record("load", core.StateFailed)
	record("load", core.StateClosed)
	record("close", core.StateCloseFailed)

	got, err := j.Failed(ctx)
	if err != nil {
		t.Fatalf("Failed() = %v", err)
	}
	if want := []string{"close", "load"}; !slices.Equal(got, want) {
		t.Errorf("Failed() = %v, want %v", got, want)
	}
}

func TestJournalSurvivesReopen(t *testing.T) {
	t.Parallel()

	j, path := openJournal(t)
	ctx := context.Background()
	if err := j.RecordTransition(ctx, core.Transition{InstanceID: "a", To: core.StateReady}); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Transitions(ctx, "a")
	if err != nil || len(got) != 1 || got[0].To != core.StateReady {
		t.Errorf("Transitions() after reopen = %v, %v", got, err)
	}
}

func TestConcurrentRecording(t *testing.T) {
	t.Parallel()

	j, _ := openJournal(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Go(func() {
			errs <- j.RecordTransition(ctx, core.Transition{InstanceID: "x", To: core.StateLoading})
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("RecordTransition() = %v", err)
		}
	}

	got, err := j.Transitions(ctx, "x")
	if err != nil || len(got) != n {
		t.Errorf("Transitions() = %d entries, %v; want %d", len(got), err, n)
	}
}

func TestRecordAfterClose(t *testing.T) {
	t.Parallel()

	j, _ := openJournal(t)
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	err := j.RecordTransition(context.Background(), core.Transition{InstanceID: "a"})
	if err == nil {
		t.Fatal("RecordTransition() after Close = nil error")
	}
	if errors.Unwrap(err) == nil {
		t.Errorf("error %v does not wrap the database error", err)
	}
}
