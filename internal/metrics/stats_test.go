package metrics

import (
	"sort"
	"testing"
)

func TestSummarize_Empty(t *testing.T) {
	t.Parallel()

	s := Summarize(nil)
	if s.MinMs != nil || s.P05Ms != nil || s.MedianMs != nil {
		t.Fatalf("expected undefined summary: %+v", s)
	}
}

func TestSummarize_Monotone(t *testing.T) {
	t.Parallel()

	samples := []float64{42.0, 7.5, 13.1, 9.9, 21.0}
	s := Summarize(samples)
	if s.MinMs == nil || s.P05Ms == nil || s.MedianMs == nil {
		t.Fatalf("summary undefined: %+v", s)
	}
	if *s.MinMs > *s.P05Ms || *s.P05Ms > *s.MedianMs {
		t.Fatalf("min=%v p05=%v med=%v", *s.MinMs, *s.P05Ms, *s.MedianMs)
	}
	if *s.MinMs != 7.5 {
		t.Fatalf("min=%v", *s.MinMs)
	}
}

func TestSummarize_UpperMedianForEvenN(t *testing.T) {
	t.Parallel()

	s := Summarize([]float64{1, 2, 3, 4})
	if *s.MedianMs != 3 {
		t.Fatalf("median=%v", *s.MedianMs)
	}
}

func TestQuantiles(t *testing.T) {
	t.Parallel()

	vals := []float64{5, 1, 4, 2, 3}
	sort.Float64s(vals)

	if v, ok := QuantileFloor(vals, 0.05); !ok || v != 1 {
		t.Fatalf("p05=%v ok=%v", v, ok)
	}
	if v, ok := QuantileCeil(vals, 0.95); !ok || v != 5 {
		t.Fatalf("p95=%v ok=%v", v, ok)
	}
	if v, ok := UpperMedian(vals); !ok || v != 3 {
		t.Fatalf("median=%v ok=%v", v, ok)
	}
	if v, ok := Median([]float64{1, 2, 3, 4}); !ok || v != 2.5 {
		t.Fatalf("median=%v ok=%v", v, ok)
	}
	if _, ok := QuantileFloor(nil, 0.5); ok {
		t.Fatal("empty slice should be undefined")
	}
}

func TestQuantile_OrderingLaw(t *testing.T) {
	t.Parallel()

	cases := [][]float64{
		{1},
		{3, 1},
		{10, 10, 10},
		{0.1, 0.2, 0.3, 100, 200, 300, 400},
	}
	for _, vals := range cases {
		sorted := append([]float64(nil), vals...)
		sort.Float64s(sorted)
		mn := sorted[0]
		p05, _ := QuantileFloor(sorted, 0.05)
		med, _ := UpperMedian(sorted)
		p95, _ := QuantileCeil(sorted, 0.95)
		if mn > p05 || p05 > med || med > p95 {
			t.Fatalf("ordering violated for %v: %v %v %v %v", vals, mn, p05, med, p95)
		}
	}
}
