package quota

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"scribepipe/internal/job"
)

func openGuard(t *testing.T) *Guard {
	t.Helper()
	store, err := job.Open(filepath.Join(t.TempDir(), "quota.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewGuard(store.Handle())
}

func provision(t *testing.T, g *Guard, acct Account) {
	t.Helper()
	if err := g.Upsert(context.Background(), acct); err != nil {
		t.Fatalf("upsert account: %v", err)
	}
}

func TestAdmitWithoutAccount(t *testing.T) {
	g := openGuard(t)
	err := g.Admit(context.Background(), "nobody", job.KindAudio)
	if !errors.Is(err, ErrNoAccount) {
		t.Fatalf("got %v, want ErrNoAccount", err)
	}
}

func TestAdmitDocumentBudget(t *testing.T) {
	g := openGuard(t)
	ctx := context.Background()
	provision(t, g, Account{UserID: "u1", Plan: "free", QuotaDocuments: 2, UsageDocuments: 1})

	if err := g.Admit(ctx, "u1", job.KindDocument); err != nil {
		t.Fatalf("admit with budget: %v", err)
	}

	provision(t, g, Account{UserID: "u1", Plan: "free", QuotaDocuments: 2, UsageDocuments: 2})
	err := g.Admit(ctx, "u1", job.KindDocument)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("got %v, want ErrQuotaExceeded", err)
	}
}

func TestAdmitAudioMinuteCeiling(t *testing.T) {
	g := openGuard(t)
	ctx := context.Background()

	provision(t, g, Account{UserID: "u1", Plan: "pro", QuotaDocuments: 100, QuotaAudioMinutes: 60, UsageAudioMinutes: 60})
	if err := g.Admit(ctx, "u1", job.KindAudio); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("got %v, want ErrQuotaExceeded", err)
	}

	// A zero audio quota means unmetered minutes.
	provision(t, g, Account{UserID: "u2", Plan: "pro", QuotaDocuments: 100, QuotaAudioMinutes: 0, UsageAudioMinutes: 9999})
	if err := g.Admit(ctx, "u2", job.KindAudio); err != nil {
		t.Fatalf("unmetered audio rejected: %v", err)
	}
}

func TestCheckPDFPages(t *testing.T) {
	g := openGuard(t)
	ctx := context.Background()
	provision(t, g, Account{UserID: "u1", Plan: "free", QuotaDocuments: 10, MaxPDFPages: 50})

	if err := g.CheckPDFPages(ctx, "u1", 50); err != nil {
		t.Fatalf("at ceiling rejected: %v", err)
	}
	if err := g.CheckPDFPages(ctx, "u1", 51); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("got %v, want ErrQuotaExceeded", err)
	}

	// A zero ceiling disables the check.
	provision(t, g, Account{UserID: "u2", Plan: "pro", QuotaDocuments: 10, MaxPDFPages: 0})
	if err := g.CheckPDFPages(ctx, "u2", 5000); err != nil {
		t.Fatalf("disabled ceiling rejected: %v", err)
	}
}

func TestCommitWithoutAccount(t *testing.T) {
	g := openGuard(t)
	err := g.Commit(context.Background(), "nobody", job.KindDocument, 0)
	if !errors.Is(err, ErrNoAccount) {
		t.Fatalf("got %v, want ErrNoAccount", err)
	}
}

func TestConcurrentCommitsAreAdditive(t *testing.T) {
	g := openGuard(t)
	ctx := context.Background()
	provision(t, g, Account{UserID: "u1", Plan: "pro", QuotaDocuments: 1000, QuotaAudioMinutes: 10000})

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- g.Commit(ctx, "u1", job.KindAudio, 1.5)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	acct, err := g.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.UsageDocuments != workers {
		t.Errorf("usage documents = %d, want %d", acct.UsageDocuments, workers)
	}
	if got, want := acct.UsageAudioMinutes, 1.5*workers; got < want-0.001 || got > want+0.001 {
		t.Errorf("usage minutes = %f, want %f", got, want)
	}
}

func TestCommitDocumentLeavesMinutesUntouched(t *testing.T) {
	g := openGuard(t)
	ctx := context.Background()
	provision(t, g, Account{UserID: "u1", Plan: "free", QuotaDocuments: 10, QuotaAudioMinutes: 60})

	if err := g.Commit(ctx, "u1", job.KindDocument, 99); err != nil {
		t.Fatalf("commit: %v", err)
	}
	acct, _ := g.Get(ctx, "u1")
	if acct.UsageDocuments != 1 {
		t.Errorf("usage documents = %d, want 1", acct.UsageDocuments)
	}
	if acct.UsageAudioMinutes != 0 {
		t.Errorf("document commit charged audio minutes: %f", acct.UsageAudioMinutes)
	}
}
