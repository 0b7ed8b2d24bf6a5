package yield

import (
	"math"
	"testing"
)

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func TestPayment(t *testing.T) {
	if got := round(Payment(0.02, 20, 100000), 4); got != -6115.6718 {
		t.Fatalf("expected -6115.6718, got %v", got)
	}
	if got := Payment(0, 20, 100000); got != -5000 {
		t.Fatalf("expected -5000 for zero rate, got %v", got)
	}
}

func TestFutureValue(t *testing.T) {
	if got := round(FutureValue(0.02, 2, 1234, 100000), 6); got != -106532.68 {
		t.Fatalf("expected -106532.68, got %v", got)
	}
	if got := FutureValue(0, 2, -100, 1000); got != -800 {
		t.Fatalf("expected -800 for zero rate, got %v", got)
	}
}

func TestInterestPayment(t *testing.T) {
	tests := []struct {
		period float64
		places int
		want   float64
	}{
		{period: 1, places: 4, want: -1680.00},
		{period: 5, places: 4, want: -1463.8203},
	}
	for _, tt := range tests {
		got := round(InterestPayment(0.02, tt.period, 25, 84000), tt.places)
		if got != tt.want {
			t.Errorf("period %v: expected %v, got %v", tt.period, tt.want, got)
		}
	}
}

func TestPrincipalPayment(t *testing.T) {
	tests := []struct {
		period float64
		places int
		want   float64
	}{
		{period: 1, places: 4, want: -2622.5168},
		{period: 2, places: 3, want: -2674.967},
		{period: 5, places: 3, want: -2838.697},
	}
	for _, tt := range tests {
		got := round(PrincipalPayment(0.02, tt.period, 25, 84000), tt.places)
		if got != tt.want {
			t.Errorf("period %v: expected %v, got %v", tt.period, tt.want, got)
		}
	}
}

func TestPrincipalPayment_Schedule(t *testing.T) {
	expected := []float64{
		-2622.52, -2674.97, -2728.47, -2783.04, -2838.70, -2895.47, -2953.38, -3012.45,
		-3072.70, -3134.15, -3196.83, -3260.77, -3325.99, -3392.51, -3460.36, -3529.56,
		-3600.15, -3672.16, -3745.60, -3820.51, -3896.92, -3974.86, -4054.36, -4135.44,
	}
	for i, want := range expected {
		period := float64(i + 1)
		if got := round(PrincipalPayment(0.02, period, 25, 84000), 2); got != want {
			t.Errorf("period %v: expected %v, got %v", period, want, got)
		}
	}
}

func TestValuationIncrease(t *testing.T) {
	if got := round(ValuationIncrease(100000, 0.02, 2), 6); got != 2040 {
		t.Fatalf("expected 2040, got %v", got)
	}
	if got := round(ValuationIncrease(100000, 0.02, 1), 6); got != 2000 {
		t.Fatalf("expected 2000, got %v", got)
	}
}
