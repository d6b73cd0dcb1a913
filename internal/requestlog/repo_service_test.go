package requestlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRepoInsertAndList(t *testing.T) {
	repo := NewRepo(t.TempDir(), 1<<20, 5)
	if err := repo.Open(); err != nil {
		t.Fatalf("repo.Open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	ts := time.Now().Add(-time.Minute).UnixNano()
	rows := []RequestLogEntry{
		{
			ID:          "log-a",
			StartedAtNs: ts,
			Kind:        4, // router.KindAsset
			ClientIP:    "10.0.0.1",
			Host:        "acme.example.com",
			Path:        "/index.html",
			ProjectID:   "project-a",
			AliasID:     "alias-a",
			DurationNs:  int64(2 * time.Millisecond),
			OK:          true,
			HTTPMethod:  "GET",
			HTTPStatus:  200,
			RespBytes:   1234,
		},
		{
			ID:          "log-b",
			StartedAtNs: ts + 1,
			Kind:        2, // router.KindProxyExternal
			ClientIP:    "10.0.0.2",
			Host:        "acme.example.com",
			Path:        "/api/widgets",
			ProjectID:   "project-a",
			AliasID:     "alias-a",
			ProxyTarget: "backend.internal.example.com",
			DurationNs:  int64(87 * time.Millisecond),
			OK:          false,
			HTTPMethod:  "POST",
			HTTPStatus:  502,
			RespBytes:   42,
		},
	}

	n, err := repo.InsertBatch(rows)
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 inserted rows, got %d", n)
	}

	results, hasMore, _, err := repo.List(ListFilter{Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if hasMore {
		t.Fatalf("expected no more pages")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	// ts_ns DESC, so log-b (later timestamp) comes first.
	if results[0].ID != "log-b" || results[1].ID != "log-a" {
		t.Fatalf("unexpected ordering: %+v", results)
	}
}

func TestRepoListFiltersByProjectAndStatus(t *testing.T) {
	repo := NewRepo(t.TempDir(), 1<<20, 5)
	if err := repo.Open(); err != nil {
		t.Fatalf("repo.Open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	base := time.Now().UnixNano()
	_, err := repo.InsertBatch([]RequestLogEntry{
		{ID: "a", StartedAtNs: base, ProjectID: "p1", HTTPStatus: 200},
		{ID: "b", StartedAtNs: base + 1, ProjectID: "p2", HTTPStatus: 404},
		{ID: "c", StartedAtNs: base + 2, ProjectID: "p1", HTTPStatus: 404},
	})
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	status404 := 404
	results, _, _, err := repo.List(ListFilter{ProjectID: "p1", HTTPStatus: &status404})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(results) != 1 || results[0].ID != "c" {
		t.Fatalf("expected only row c, got %+v", results)
	}
}

func TestRepoGetByID(t *testing.T) {
	repo := NewRepo(t.TempDir(), 1<<20, 5)
	if err := repo.Open(); err != nil {
		t.Fatalf("repo.Open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	if _, err := repo.InsertBatch([]RequestLogEntry{{ID: "only", StartedAtNs: 1, HTTPStatus: 200}}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	row, err := repo.GetByID("only")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if row == nil {
		t.Fatal("expected a row")
	}
	if row.HTTPStatus != 200 {
		t.Fatalf("unexpected status: %d", row.HTTPStatus)
	}

	missing, err := repo.GetByID("nope")
	if err != nil {
		t.Fatalf("GetByID missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing id, got %+v", missing)
	}
}

func TestRepoRotatesAndPrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	repo := NewRepo(dir, 1, 2) // tiny maxBytes forces rotation on every insert
	if err := repo.Open(); err != nil {
		t.Fatalf("repo.Open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	for i := 0; i < 5; i++ {
		if _, err := repo.InsertBatch([]RequestLogEntry{{ID: string(rune('a' + i)), StartedAtNs: int64(i)}}); err != nil {
			t.Fatalf("InsertBatch %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var dbFiles int
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".db") {
			dbFiles++
		}
	}
	if dbFiles > 2 {
		t.Fatalf("expected at most 2 retained db files, got %d", dbFiles)
	}
	if dbFiles == 0 {
		t.Fatal("expected at least one retained db file")
	}
	// sanity: the retained files really are under dir
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".db") {
			if _, err := os.Stat(filepath.Join(dir, e.Name())); err != nil {
				t.Fatalf("stat retained file: %v", err)
			}
		}
	}
}

func TestServiceEmitAndFlush(t *testing.T) {
	repo := NewRepo(t.TempDir(), 1<<20, 5)
	if err := repo.Open(); err != nil {
		t.Fatalf("repo.Open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	svc := NewService(ServiceConfig{Repo: repo, QueueSize: 16, FlushBatch: 100, FlushInterval: time.Hour})
	svc.Start()
	t.Cleanup(svc.Stop)

	svc.EmitRequestLog(RequestLogEntry{ID: "async-1", StartedAtNs: time.Now().UnixNano(), HTTPStatus: 200})
	svc.FlushNow()

	results, _, _, err := repo.List(ListFilter{Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(results) != 1 || results[0].ID != "async-1" {
		t.Fatalf("expected the emitted entry to be flushed, got %+v", results)
	}
}

func TestServiceEmitDropsOnFullQueue(t *testing.T) {
	repo := NewRepo(t.TempDir(), 1<<20, 5)
	if err := repo.Open(); err != nil {
		t.Fatalf("repo.Open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	// Queue size 1 and no Start(): nothing drains it, so the second emit
	// must be dropped instead of blocking.
	svc := NewService(ServiceConfig{Repo: repo, QueueSize: 1})
	svc.EmitRequestLog(RequestLogEntry{ID: "first"})

	done := make(chan struct{})
	go func() {
		svc.EmitRequestLog(RequestLogEntry{ID: "second"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("EmitRequestLog blocked on a full queue instead of dropping")
	}
}
