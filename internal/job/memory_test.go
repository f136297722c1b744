package job

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMemoryRepository_Create(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New("p", "", 6, "replicate")

	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	saved, err := repo.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.ID != job.ID {
		t.Errorf("expected ID %s, got %s", job.ID, saved.ID)
	}

	if err := repo.Create(ctx, job); !errors.Is(err, ErrDuplicateJob) {
		t.Errorf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestMemoryRepository_FindByID_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.FindByID(context.Background(), "non-existent")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_ReturnsClone(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New("p", "", 6, "replicate")
	_ = repo.Create(ctx, job)

	got, _ := repo.FindByID(ctx, job.ID)
	got.Status = StatusFailed

	again, _ := repo.FindByID(ctx, job.ID)
	if again.Status != StatusPending {
		t.Errorf("external mutation leaked into the store: %s", again.Status)
	}
}

func TestMemoryRepository_Apply(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New("p", "", 6, "replicate")
	_ = repo.Create(ctx, job)

	updated, err := repo.Apply(ctx, job.ID, Update{Status: StatusProcessing, ProviderJobID: "pred-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusProcessing {
		t.Errorf("expected processing, got %s", updated.Status)
	}

	byProvider, err := repo.FindByProviderJobID(ctx, "pred-1")
	if err != nil {
		t.Fatalf("FindByProviderJobID() error = %v", err)
	}
	if byProvider.ID != job.ID {
		t.Errorf("expected job %s, got %s", job.ID, byProvider.ID)
	}

	if _, err := repo.Apply(ctx, job.ID, Update{Status: StatusCompleted, ResultURL: "https://x/a.mp4"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	current, err := repo.Apply(ctx, job.ID, Update{Status: StatusFailed, ErrorText: "late"})
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
	if current.Status != StatusCompleted || Deref(current.ResultURL) != "https://x/a.mp4" {
		t.Errorf("terminal job changed: %s %q", current.Status, Deref(current.ResultURL))
	}
}

func TestMemoryRepository_Apply_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.Apply(context.Background(), "missing", Update{Status: StatusFailed})
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_List(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	base := time.Now()
	for i, status := range []Status{StatusPending, StatusProcessing, StatusProcessing} {
		job := NewWithID(string(rune('a'+i)), "p", "", 6, "replicate")
		job.Status = status
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_ = repo.Create(ctx, job)
	}

	all, _ := repo.List(ctx, ListOptions{})
	if len(all) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(all))
	}
	if all[0].ID != "c" || all[2].ID != "a" {
		t.Errorf("expected newest first, got %s..%s", all[0].ID, all[2].ID)
	}

	processing, _ := repo.List(ctx, ListOptions{Status: StatusProcessing})
	if len(processing) != 2 {
		t.Errorf("expected 2 processing jobs, got %d", len(processing))
	}

	limited, _ := repo.List(ctx, ListOptions{Limit: 1})
	if len(limited) != 1 || limited[0].ID != "c" {
		t.Errorf("expected only the newest job, got %d", len(limited))
	}
}

func TestMemoryRepository_List_Cursor(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	same := time.Now()
	for _, id := range []string{"b", "a", "d", "c"} {
		job := NewWithID(id, "p", "", 6, "replicate")
		job.CreatedAt = same
		_ = repo.Create(ctx, job)
	}

	var got []string
	var after *Cursor
	for {
		page, err := repo.List(ctx, ListOptions{Limit: 3, OldestFirst: true, After: after})
		if err != nil {
			t.Fatal(err)
		}
		for _, j := range page {
			got = append(got, j.ID)
		}
		if len(page) < 3 {
			break
		}
		after = CursorOf(page[len(page)-1])
	}
	if strings.Join(got, "") != "abcd" {
		t.Errorf("expected ascending pages abcd, got %v", got)
	}

	newest, _ := repo.List(ctx, ListOptions{After: &Cursor{CreatedAt: same, ID: "c"}})
	if len(newest) != 2 || newest[0].ID != "b" || newest[1].ID != "a" {
		t.Errorf("expected b,a after c in newest-first order, got %d jobs", len(newest))
	}
}

func TestMemoryRepository_ConcurrentApply(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New("p", "", 6, "replicate")
	_ = repo.Create(ctx, job)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := Update{Status: StatusCompleted, ResultURL: "https://x/a.mp4"}
			if i%2 == 1 {
				u = Update{Status: StatusFailed, ErrorText: "boom"}
			}
			if _, err := repo.Apply(ctx, job.ID, u); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly one terminal write, got %d", winners)
	}
	final, _ := repo.FindByID(ctx, job.ID)
	if !final.IsTerminal() {
		t.Errorf("expected a terminal job, got %s", final.Status)
	}
}
