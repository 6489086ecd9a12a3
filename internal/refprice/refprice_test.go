package refprice

import (
	"context"
	"errors"
	"math"
	"testing"
)

type stubSource struct {
	name  string
	price float64
	err   error
}

func (s stubSource) Name() string { return s.name }

func (s stubSource) Price(ctx context.Context) (float64, error) {
	return s.price, s.err
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCheckPassesWithinDivergence(t *testing.T) {
	guard := NewGuard(1.0,
		stubSource{name: "a", price: 99},
		stubSource{name: "b", price: 100},
		stubSource{name: "c", price: 101},
	)

	ok, div := guard.Check(context.Background(), 100.5)
	if !ok {
		t.Fatalf("expected price within divergence to pass, got divergence %.4f", div)
	}
	if !almostEqual(div, 0.5) {
		t.Errorf("expected divergence 0.5, got %v", div)
	}
}

func TestCheckRejectsDivergentPrice(t *testing.T) {
	guard := NewGuard(1.0,
		stubSource{name: "a", price: 100},
		stubSource{name: "b", price: 100},
	)

	ok, div := guard.Check(context.Background(), 103)
	if ok {
		t.Fatal("expected divergent price to fail the check")
	}
	if !almostEqual(div, 3.0) {
		t.Errorf("expected divergence 3.0, got %v", div)
	}
}

func TestCheckSkipsFailingSources(t *testing.T) {
	guard := NewGuard(1.0,
		stubSource{name: "a", err: errors.New("venue down")},
		stubSource{name: "b", price: 100},
	)

	ok, div := guard.Check(context.Background(), 100)
	if !ok {
		t.Fatal("expected check to pass using the surviving source")
	}
	if !almostEqual(div, 0) {
		t.Errorf("expected zero divergence, got %v", div)
	}
}

func TestCheckPassesWhenNoSourceAnswers(t *testing.T) {
	guard := NewGuard(1.0,
		stubSource{name: "a", err: errors.New("venue down")},
		stubSource{name: "b", price: -1},
	)

	ok, div := guard.Check(context.Background(), 100)
	if !ok {
		t.Fatal("expected check to pass when no reference answers")
	}
	if div != 0 {
		t.Errorf("expected zero divergence, got %v", div)
	}
}

func TestCheckPassesWithoutSources(t *testing.T) {
	guard := NewGuard(1.0)

	if ok, _ := guard.Check(context.Background(), 100); !ok {
		t.Fatal("expected check without sources to pass")
	}
}

func TestMedian(t *testing.T) {
	cases := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{name: "odd", values: []float64{101, 99, 100}, expected: 100},
		{name: "even", values: []float64{100, 102}, expected: 101},
		{name: "single", values: []float64{42}, expected: 42},
	}

	for _, tc := range cases {
		if got := median(tc.values); got != tc.expected {
			t.Errorf("%s: expected median %v, got %v", tc.name, tc.expected, got)
		}
	}
}
