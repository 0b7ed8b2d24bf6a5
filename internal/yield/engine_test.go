package yield

import (
	"math"
	"testing"
)

func TestParams_IRR_Scenario(t *testing.T) {
	p := DefaultParams()
	got := p.IRR(100000, 800, 200, 2.00)
	if round(got, 3) != 25.996 {
		t.Fatalf("expected 25.996, got %v", got)
	}
}

func TestParams_CashFlows_Shape(t *testing.T) {
	p := DefaultParams()
	flows := p.CashFlows(100000, 800, 200, 2.00)
	if len(flows) != p.LoanYears+1 {
		t.Fatalf("expected %d flows, got %d", p.LoanYears+1, len(flows))
	}
	// 20% of (100000 + 5000)
	if flows[0] != -21000 {
		t.Fatalf("expected down payment -21000, got %v", flows[0])
	}
}

func TestParams_IRR_UnusableInputs(t *testing.T) {
	p := DefaultParams()
	tests := []struct {
		name                    string
		price, rent, cost, rate float64
	}{
		{name: "zero price", price: 0, rent: 800, cost: 200, rate: 2},
		{name: "negative price", price: -1, rent: 800, cost: 200, rate: 2},
		{name: "zero rent", price: 100000, rent: 0, cost: 200, rate: 2},
	}
	for _, tt := range tests {
		if got := p.IRR(tt.price, tt.rent, tt.cost, tt.rate); got != 0 {
			t.Errorf("%s: expected 0, got %v", tt.name, got)
		}
	}

	if got := (Params{}).IRR(100000, 800, 200, 2); got != 0 {
		t.Fatalf("expected 0 without loan duration, got %v", got)
	}
}

func TestParams_IRR_ClampsExtremeYield(t *testing.T) {
	p := DefaultParams()
	// Rent far above the price pushes the raw IRR well past 50%.
	if got := p.IRR(10000, 5000, 0, 2); got != 0 {
		t.Fatalf("expected clamp to 0, got %v", got)
	}
}

func TestParams_IRR_ZeroInterest(t *testing.T) {
	p := DefaultParams()
	got := p.IRR(100000, 800, 200, 0)
	if math.IsNaN(got) || got == 0 {
		t.Fatalf("expected a finite yield at 0%% interest, got %v", got)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{in: 12.5, want: 12.5},
		{in: -50, want: -50},
		{in: 50, want: 50},
		{in: 50.0001, want: 0},
		{in: -73, want: 0},
		{in: math.NaN(), want: 0},
		{in: math.Inf(1), want: 0},
	}
	for _, tt := range tests {
		if got := Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
