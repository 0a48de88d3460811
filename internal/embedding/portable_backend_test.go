package embedding

import (
	"context"
	"math"
	"testing"
)

func TestPortableBackend_Deterministic(t *testing.T) {
	b, err := NewPortableBackend(t.TempDir(), 32)
	if err != nil {
		t.Fatal(err)
	}

	a, err := b.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatal(err)
	}
	c, err := b.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(c) {
		t.Fatalf("expected equal-length vectors, got %d vs %d", len(a), len(c))
	}
	for i := range a {
		if a[i] != c[i] {
			t.Fatalf("expected identical embeddings for identical text, differ at index %d: %v vs %v", i, a[i], c[i])
		}
	}
}

func TestPortableBackend_DifferentTextDiffers(t *testing.T) {
	b, err := NewPortableBackend(t.TempDir(), 32)
	if err != nil {
		t.Fatal(err)
	}

	a, err := b.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatal(err)
	}
	c, err := b.Embed(context.Background(), "goodbye moon")
	if err != nil {
		t.Fatal(err)
	}
	equal := true
	for i := range a {
		if a[i] != c[i] {
			equal = false
			break
		}
	}
	if equal {
		t.Fatal("expected different text to produce different embeddings")
	}
}

func TestPortableBackend_Dimension(t *testing.T) {
	b, err := NewPortableBackend(t.TempDir(), 64)
	if err != nil {
		t.Fatal(err)
	}
	if b.Dimension() != 64 {
		t.Fatalf("expected dimension 64, got %d", b.Dimension())
	}
	vec, err := b.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 64 {
		t.Fatalf("expected a 64-dim vector, got %d", len(vec))
	}
}

func TestPortableBackend_L2Normalised(t *testing.T) {
	b, err := NewPortableBackend(t.TempDir(), 16)
	if err != nil {
		t.Fatal(err)
	}
	vec, err := b.Embed(context.Background(), "some reasonably long piece of text to embed")
	if err != nil {
		t.Fatal(err)
	}
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1.0) > 1e-6 {
		t.Fatalf("expected an L2-normalised vector (norm ~1), got norm %v", norm)
	}
}

func TestPortableBackend_EmptyTextReturnsZeroVector(t *testing.T) {
	b, err := NewPortableBackend(t.TempDir(), 8)
	if err != nil {
		t.Fatal(err)
	}
	vec, err := b.Embed(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatalf("expected all-zero vector for empty text, got %v", vec)
		}
	}
}
