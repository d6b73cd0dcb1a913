package storage

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestLocalUploadDownloadRoundTrip(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	ctx := context.Background()
	key := "acme/site/commits/abc/index.html"
	if err := l.Upload(ctx, key, strings.NewReader("HELLO"), 5); err != nil {
		t.Fatalf("upload: %v", err)
	}
	rc, err := l.Download(ctx, key)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "HELLO" {
		t.Fatalf("got %q", body)
	}
}

func TestLocalDeletePrefix(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	ctx := context.Background()
	_ = l.Upload(ctx, "acme/site/commits/abc/index.html", strings.NewReader("a"), 1)
	_ = l.Upload(ctx, "acme/site/commits/abc/style.css", strings.NewReader("b"), 1)
	_ = l.Upload(ctx, "acme/site/commits/def/index.html", strings.NewReader("c"), 1)

	if err := l.DeletePrefix(ctx, "acme/site/commits/abc/"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if ok, _ := l.Exists(ctx, "acme/site/commits/abc/index.html"); ok {
		t.Fatal("expected abc/index.html deleted")
	}
	if ok, _ := l.Exists(ctx, "acme/site/commits/def/index.html"); !ok {
		t.Fatal("expected def/index.html to survive")
	}
}

func TestLocalRejectsPathTraversal(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	if err := l.Upload(context.Background(), "../../etc/passwd", strings.NewReader("x"), 1); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}
