package qdrant

import "testing"

func TestEncodeSparseQueryDeterministic(t *testing.T) {
	a := encodeSparseQuery("clean the filler nozzles")
	b := encodeSparseQuery("clean the filler nozzles")

	if len(a.Indices) != len(b.Indices) {
		t.Fatalf("expected deterministic encoding, got %d vs %d indices", len(a.Indices), len(b.Indices))
	}
	for i := range a.Indices {
		if a.Indices[i] != b.Indices[i] || a.Values[i] != b.Values[i] {
			t.Fatalf("encoding differs at %d", i)
		}
	}
}

func TestEncodeSparseQueryCaseInsensitive(t *testing.T) {
	lower := encodeSparseQuery("filler nozzle")
	upper := encodeSparseQuery("FILLER NOZZLE")

	if len(lower.Indices) != len(upper.Indices) {
		t.Fatalf("case variants must hash identically")
	}
	for i := range lower.Indices {
		if lower.Indices[i] != upper.Indices[i] {
			t.Fatalf("case variants must hash identically at %d", i)
		}
	}
}

func TestEncodeSparseQuerySaturatesRepeats(t *testing.T) {
	once := encodeSparseQuery("nozzle")
	many := encodeSparseQuery("nozzle nozzle nozzle nozzle nozzle")

	if len(once.Values) != 1 || len(many.Values) != 1 {
		t.Fatalf("expected single term, got %d/%d", len(once.Values), len(many.Values))
	}
	if !(many.Values[0] > once.Values[0]) {
		t.Fatalf("repeats must increase the weight")
	}
	// BM25 saturation caps the weight below k+1.
	if many.Values[0] >= float32(queryBM25K+1.0) {
		t.Fatalf("weight must saturate below %f, got %f", queryBM25K+1.0, many.Values[0])
	}
}

func TestEncodeSparseQueryEmpty(t *testing.T) {
	if out := encodeSparseQuery("  ...  "); len(out.Indices) != 0 {
		t.Fatalf("expected empty vector, got %v", out)
	}
}

func TestHashTokenNeverZero(t *testing.T) {
	if hashToken("") == 0 {
		t.Fatalf("zero index is reserved")
	}
}
