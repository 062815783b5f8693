package embedding

import (
	"context"
	"math"
	"testing"
)

func TestLocal_Deterministic(t *testing.T) {
	l := NewLocal("stub-model", 32)
	a, err := l.Embed(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatal(err)
	}
	b, err := l.Embed(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("local embedder not deterministic")
		}
	}
}

func TestLocal_DistinctTexts(t *testing.T) {
	l := NewLocal("stub-model", 32)
	a, _ := l.Embed(context.Background(), "alpha")
	b, _ := l.Embed(context.Background(), "beta")
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical vectors")
	}
}

func TestLocal_UnitNorm(t *testing.T) {
	for _, dim := range []int{4, 8, 32, 1536} {
		l := NewLocal("stub-model", dim)
		v, err := l.Embed(context.Background(), "content")
		if err != nil {
			t.Fatal(err)
		}
		if len(v) != dim {
			t.Fatalf("dim %d: len = %d", dim, len(v))
		}
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		norm = math.Sqrt(norm)
		if math.Abs(norm-1) > 1e-5 {
			t.Errorf("dim %d: norm = %v, want 1", dim, norm)
		}
	}
}

func TestLocal_EmbedBatch(t *testing.T) {
	l := NewLocal("stub-model", 8)
	batch, err := l.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 3 {
		t.Fatalf("batch len = %d, want 3", len(batch))
	}
	single, _ := l.Embed(context.Background(), "b")
	for i := range single {
		if batch[1][i] != single[i] {
			t.Error("batch result differs from single embed")
		}
	}
}

func TestLocal_ModelName(t *testing.T) {
	if NewLocal("m", 4).ModelName() != "m" {
		t.Error("model name mismatch")
	}
}
