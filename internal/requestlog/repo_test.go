package requestlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/frayproxy/fray/internal/proxy"
)

func testRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := OpenRepo(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepoInsertAndCount(t *testing.T) {
	repo := testRepo(t)

	entries := []proxy.HistoryEntry{
		{TaskID: 1, StartedAtNs: time.Now().UnixNano(), Method: "GET", TargetHost: "example.com:80", Faulted: true, FaultKind: "latency", HTTPStatus: 200},
		{TaskID: 2, StartedAtNs: time.Now().UnixNano(), Method: "CONNECT", TargetHost: "example.com:443", IsConnect: true},
	}
	if err := repo.InsertBatch(entries); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := repo.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestRepoMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	repo, err := OpenRepo(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	repo.Close()

	repo2, err := OpenRepo(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	repo2.Close()
}

func TestServiceFlushesOnClose(t *testing.T) {
	repo := testRepo(t)
	svc := NewService(repo, zerolog.Nop())

	for i := 0; i < 10; i++ {
		svc.Record(proxy.HistoryEntry{TaskID: 1, Method: "GET", TargetHost: "example.com:80"})
	}
	svc.Close()

	n, err := repo.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 10 {
		t.Fatalf("count after close = %d, want 10", n)
	}
}
