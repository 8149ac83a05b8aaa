package storage

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestLocal_RoundTrip(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := s.Save(ctx, "abc.txt", strings.NewReader("hello")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	r, err := s.Open(ctx, "abc.txt")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	content, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "hello" {
		t.Errorf("read %q, want %q", content, "hello")
	}
}

func TestLocal_DeleteMissingIsOK(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(context.Background(), "never-saved.txt"); err != nil {
		t.Errorf("deleting a missing key should not error, got %v", err)
	}
}

func TestLocal_RejectsPathKeys(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, key := range []string{"", "../escape", "a/b", `a\b`} {
		if err := s.Save(ctx, key, strings.NewReader("x")); err == nil {
			t.Errorf("expected error for key %q", key)
		}
		if _, err := s.Open(ctx, key); err == nil {
			t.Errorf("expected error opening key %q", key)
		}
	}
}
