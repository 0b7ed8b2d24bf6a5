package yield

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// realTolerance is the largest imaginary part an eigenvalue may have and
// still count as a real root.
const realTolerance = 1e-9

// IRR returns the internal rate of return of cashFlows as a fraction, where
// cashFlows[0] is the initial (year 0) flow.
//
// The cash flows are read as the coefficients of Σ cᵢxⁱ. Roots ≥ -1 are
// candidates; with several candidates the one with the smallest magnitude
// wins, ties going to the first found. ok is false when there is no candidate.
func IRR(cashFlows []float64) (rate float64, ok bool) {
	var candidates []float64
	for _, root := range Roots(cashFlows) {
		if root >= -1 {
			candidates = append(candidates, root)
		}
	}

	switch len(candidates) {
	case 0:
		return 0, false
	case 1:
		return candidates[0] - 1, true
	}

	best := candidates[0]
	for _, root := range candidates[1:] {
		if math.Abs(root) < math.Abs(best) {
			best = root
		}
	}
	return best - 1, true
}

// Roots returns the reciprocals of the real roots of the polynomial
// coeffs[0] + coeffs[1]x + ... + coeffs[n]xⁿ. For a cash-flow polynomial,
// where x = 1/(1+r), every returned value is 1+r.
//
// A degree-1 polynomial is the exception: its root -coeffs[0]/coeffs[1] is
// returned as is, so IRR([-100, 110]) is 100/110 - 1 rather than 0.1.
func Roots(coeffs []float64) []float64 {
	coeffs = trimTrailingZeros(coeffs)
	n := len(coeffs) - 1
	if n < 1 {
		return nil
	}
	if n == 1 {
		return []float64{-coeffs[0] / coeffs[1]}
	}

	companion := Reverse(Companion(coeffs))

	var eig mat.Eigen
	if !eig.Factorize(companion, mat.EigenNone) {
		return nil
	}

	values := eig.Values(nil)
	roots := make([]float64, 0, len(values))
	for _, v := range values {
		if math.Abs(imag(v)) <= realTolerance {
			roots = append(roots, 1/real(v))
		}
	}
	return roots
}

// Companion builds the companion matrix of the polynomial with the given
// coefficients (lowest degree first). Its eigenvalues are the polynomial's
// roots.
func Companion(coeffs []float64) *mat.Dense {
	n := len(coeffs) - 1
	if n < 1 {
		panic("yield: polynomial must have degree of at least 1")
	}
	if n == 1 {
		return mat.NewDense(1, 1, []float64{-coeffs[0] / coeffs[1]})
	}

	m := mat.NewDense(n, n, nil)
	for i := 0; i < n-1; i++ {
		m.Set(i+1, i, 1)
	}
	for i := 0; i < n; i++ {
		m.Set(i, n-1, -coeffs[i]/coeffs[n])
	}
	return m
}

// Reverse flips m along both rows and columns. The result has the same
// eigenvalues as m.
func Reverse(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, m.At(rows-1-i, cols-1-j))
		}
	}
	return out
}

func trimTrailingZeros(coeffs []float64) []float64 {
	end := len(coeffs)
	for end > 0 && coeffs[end-1] == 0 {
		end--
	}
	return coeffs[:end]
}
