package hashing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// chunkRecorder фиксирует размеры запрошенных блоков.
type chunkRecorder struct {
	r     io.Reader
	sizes []int
}

func (c *chunkRecorder) Read(p []byte) (int, error) {
	c.sizes = append(c.sizes, len(p))
	return c.r.Read(p)
}

func TestDigest_KnownValues(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "d41d8cd98f00b204e9800998ecf8427e"},
		{"hello", "5d41402abc4b2a76b9719d911017c592"},
		{"The quick brown fox jumps over the lazy dog", "9e107d9d372bb6826bd81d3542a419d6"},
	}
	for _, tt := range tests {
		got, n, err := Digest(strings.NewReader(tt.in))
		if err != nil {
			t.Fatalf("Digest(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Digest(%q) = %s, ожидалось %s", tt.in, got, tt.want)
		}
		if n != int64(len(tt.in)) {
			t.Errorf("Digest(%q) n = %d, ожидалось %d", tt.in, n, len(tt.in))
		}
	}
}

func TestDigest_ReadsInChunks(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 3*ChunkSize+10)
	rec := &chunkRecorder{r: bytes.NewReader(data)}

	if _, _, err := Digest(rec); err != nil {
		t.Fatalf("Digest: %v", err)
	}
	for _, sz := range rec.sizes {
		if sz != ChunkSize {
			t.Fatalf("размер блока = %d, ожидалось %d", sz, ChunkSize)
		}
	}
	if len(rec.sizes) < 4 {
		t.Errorf("количество чтений = %d, ожидалось не менее 4", len(rec.sizes))
	}
}

func TestDigest_ChunkBoundaryIndependent(t *testing.T) {
	data := bytes.Repeat([]byte("abc"), ChunkSize)
	a, _, _ := Digest(bytes.NewReader(data))
	b, _, _ := Digest(io.MultiReader(bytes.NewReader(data[:7]), bytes.NewReader(data[7:])))
	if a != b {
		t.Errorf("дайджест зависит от разбиения потока: %s != %s", a, b)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk error") }

func TestDigest_ReadError(t *testing.T) {
	if _, _, err := Digest(failingReader{}); err == nil {
		t.Fatal("ожидалась ошибка чтения")
	}
}

// mapOpener — простое хранилище для тестов DigestBlob.
type mapOpener map[string][]byte

func (m mapOpener) Open(_ context.Context, handle string) (io.ReadCloser, error) {
	data, ok := m[handle]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestDigestBlob(t *testing.T) {
	store := mapOpener{"h1": []byte("hello")}

	got, err := DigestBlob(context.Background(), store, "h1")
	if err != nil {
		t.Fatalf("DigestBlob: %v", err)
	}
	if got != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("DigestBlob = %s", got)
	}

	if _, err := DigestBlob(context.Background(), store, "missing"); err == nil {
		t.Error("ожидалась ошибка для отсутствующего blob")
	}
}

func TestDigestBlob_ContextCancelled(t *testing.T) {
	store := mapOpener{"h1": bytes.Repeat([]byte("x"), ChunkSize*2)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := DigestBlob(ctx, store, "h1"); !errors.Is(err, context.Canceled) {
		t.Errorf("DigestBlob err = %v, ожидалось context.Canceled", err)
	}
}
