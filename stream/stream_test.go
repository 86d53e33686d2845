package stream_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Skryldev/glycin/stream"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "input.bin")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestSpawnCopiesFullContentThroughPipe(t *testing.T) {
	content := strings.Repeat("glycin", 200) // well over HeadSize
	path := writeTemp(t, content)

	f := stream.NewOSFile(path)
	s := stream.Spawn(context.Background(), f, 64)

	got, err := io.ReadAll(s.ReadFD())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != content {
		t.Errorf("copied %d bytes, want %d matching content", len(got), len(content))
	}
	if err := s.Wait(); err != nil {
		t.Errorf("Wait: %v", err)
	}
}

func TestHeadReturnsLeadingBytesBeforeFullDrain(t *testing.T) {
	content := strings.Repeat("x", stream.HeadSize*4)
	path := writeTemp(t, content)

	f := stream.NewOSFile(path)
	s := stream.Spawn(context.Background(), f, 128)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	head, err := s.Head(ctx)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if len(head) < stream.HeadSize {
		t.Errorf("len(head) = %d, want >= %d", len(head), stream.HeadSize)
	}

	io.Copy(io.Discard, s.ReadFD())
	s.Wait()
}

func TestHeadOnShortFileReturnsWhatExists(t *testing.T) {
	content := "short"
	path := writeTemp(t, content)

	f := stream.NewOSFile(path)
	s := stream.Spawn(context.Background(), f, 64)

	head, err := s.Head(context.Background())
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if string(head) != content {
		t.Errorf("head = %q, want %q", head, content)
	}
	io.Copy(io.Discard, s.ReadFD())
	s.Wait()
}

func TestCancelStopsCopyWithShortRead(t *testing.T) {
	content := strings.Repeat("y", 1<<20)
	path := writeTemp(t, content)

	f := stream.NewOSFile(path)
	s := stream.Spawn(context.Background(), f, 4096)

	s.Cancel()

	var buf bytes.Buffer
	io.Copy(&buf, s.ReadFD())
	s.Wait()

	if buf.Len() >= len(content) {
		t.Errorf("expected a short read after Cancel, got full %d bytes", buf.Len())
	}
}

func TestOSFileNameAndDir(t *testing.T) {
	path := writeTemp(t, "data")
	f := stream.NewOSFile(path)
	if f.Name() != "input.bin" {
		t.Errorf("Name() = %q, want input.bin", f.Name())
	}
	if f.Dir() != filepath.Dir(path) {
		t.Errorf("Dir() = %q, want %q", f.Dir(), filepath.Dir(path))
	}
}
