// FILE: indicators_test.go
package main

import (
	"math"
	"testing"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestEMAConstantSeries(t *testing.T) {
	in := []float64{100, 100, 100, 100}
	out := EMA(in, 15)
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i, v := range out {
		if v != 100 {
			t.Fatalf("out[%d] = %v, want 100", i, v)
		}
	}
}

func TestEMASeedsFromFirstClose(t *testing.T) {
	out := EMA([]float64{50, 60, 70}, 2)
	if out[0] != 50 {
		t.Fatalf("seed = %v, want 50", out[0])
	}
	// k = 2/3: out[1] = 60*2/3 + 50*1/3
	want := 60*2.0/3.0 + 50/3.0
	if !almostEqual(out[1], want, 1e-9) {
		t.Fatalf("out[1] = %v, want %v", out[1], want)
	}
}

func TestEMADegenerateInputs(t *testing.T) {
	if EMA(nil, 15) != nil {
		t.Fatal("empty input should return nil")
	}
	if EMA([]float64{1, 2}, 0) != nil {
		t.Fatal("period 0 should return nil")
	}
}

func TestEMATracksRisingSeries(t *testing.T) {
	closes := make([]float64, 100)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	fast := EMA(closes, 15)
	slow := EMA(closes, 60)
	if last(fast) <= last(slow) {
		t.Fatalf("fast EMA %v should lead slow %v on a rising series", last(fast), last(slow))
	}
}

func TestRSIExtremes(t *testing.T) {
	up := make([]float64, 30)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	r := RSI(up, 14)
	if last(r) < 90 {
		t.Fatalf("monotonic gains should push RSI high, got %v", last(r))
	}
	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 100
	}
	r = RSI(flat, 14)
	if last(r) != 50 {
		t.Fatalf("flat series RSI = %v, want 50", last(r))
	}
}
