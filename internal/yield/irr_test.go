package yield

import (
	"sort"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestIRR_KnownCashFlows(t *testing.T) {
	tests := []struct {
		name  string
		flows []float64
		want  float64
	}{
		{
			name:  "growing returns",
			flows: []float64{-100000, 20000, 50000, 70000},
			want:  0.156152,
		},
		{
			name:  "loss",
			flows: []float64{-100000, 20000, 50000, 20000},
			want:  -0.051028,
		},
		{
			name: "25 years",
			flows: []float64{
				-21000.00, 3790.00, 3914.05, 4039.87, 4167.47, 4296.90, 4428.19, 4561.35, 4696.42,
				4833.43, 4972.42, 5113.41, 5256.44, 5401.54, 5548.74, 5698.07, 5849.58, 6003.30,
				6159.26, 6317.50, 6478.06, 6640.97, 6806.27, 6974.01, 7144.22, 7316.94,
			},
			want: 0.207468,
		},
		{
			name:  "single period keeps the plain linear root",
			flows: []float64{-100, 110},
			want:  -0.090909,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := IRR(tt.flows)
			if !ok {
				t.Fatalf("expected a root")
			}
			if round(got, 6) != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestIRR_NoRoot(t *testing.T) {
	if _, ok := IRR([]float64{100}); ok {
		t.Fatalf("constant polynomial has no root")
	}
	if _, ok := IRR(nil); ok {
		t.Fatalf("empty cash flow has no root")
	}
	// 1 + 2x + 3x² has no real roots.
	if _, ok := IRR([]float64{1, 2, 3}); ok {
		t.Fatalf("expected no real root")
	}
}

func TestRoots(t *testing.T) {
	tests := []struct {
		name   string
		coeffs []float64
		want   []float64
	}{
		{name: "linear", coeffs: []float64{-2, 1}, want: []float64{2}},
		{name: "quadratic", coeffs: []float64{1, -5, 6}, want: []float64{2, 3}},
		{name: "cubic", coeffs: []float64{1, -6, 11, -6}, want: []float64{1, 2, 3}},
		{name: "complex only", coeffs: []float64{1, 2, 3}, want: nil},
		{name: "trailing zero", coeffs: []float64{1, -5, 6, 0}, want: []float64{2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Roots(tt.coeffs)
			sort.Float64s(got)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d roots, got %v", len(tt.want), got)
			}
			for i := range got {
				if round(got[i], 2) != tt.want[i] {
					t.Fatalf("root %d: expected %v, got %v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestCompanion(t *testing.T) {
	got := Companion([]float64{1, 2, 3})
	want := mat.NewDense(2, 2, []float64{
		0, -1.0 / 3.0,
		1, -2.0 / 3.0,
	})
	if !mat.EqualApprox(got, want, 1e-15) {
		t.Fatalf("unexpected companion:\n%v", mat.Formatted(got))
	}

	got = Companion([]float64{-2, 3, 4, -5, 1})
	want = mat.NewDense(4, 4, []float64{
		0, 0, 0, 2,
		1, 0, 0, -3,
		0, 1, 0, -4,
		0, 0, 1, 5,
	})
	if !mat.Equal(got, want) {
		t.Fatalf("unexpected companion:\n%v", mat.Formatted(got))
	}

	got = Companion([]float64{1, -6, 11, -6})
	want = mat.NewDense(3, 3, []float64{
		0, 0, 1.0 / 6.0,
		1, 0, -1,
		0, 1, 11.0 / 6.0,
	})
	if !mat.EqualApprox(got, want, 1e-15) {
		t.Fatalf("unexpected companion:\n%v", mat.Formatted(got))
	}
}

func TestReverse(t *testing.T) {
	in := mat.NewDense(4, 4, []float64{
		0, 0, 0, 2,
		1, 0, 0, -3,
		0, 1, 0, -4,
		0, 0, 1, 5,
	})
	want := mat.NewDense(4, 4, []float64{
		5, 1, 0, 0,
		-4, 0, 1, 0,
		-3, 0, 0, 1,
		2, 0, 0, 0,
	})
	if got := Reverse(in); !mat.Equal(got, want) {
		t.Fatalf("unexpected reverse:\n%v", mat.Formatted(got))
	}
}
