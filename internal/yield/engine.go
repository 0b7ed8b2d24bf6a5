package yield

import "math"

// MaxAbsYield bounds the yields the engine reports. Anything outside
// [-MaxAbsYield, MaxAbsYield] percent is reported as 0.
const MaxAbsYield = 50.0

// Params describes the financing and market assumptions of a purchase.
// Percentages are given as percent (20 means 20%).
type Params struct {
	LoanYears        int     // loan duration in years
	DownPaymentPct   float64 // share of price + renovation paid up front
	VacantMonths     float64 // average vacant months per year
	RentGrowthPct    float64 // yearly rent increase
	PriceGrowthPct   float64 // yearly property value increase
	RenovationBudget float64 // renovation costs, financed and depreciated over the loan
	TaxPct           float64 // tax on operating profit
}

// DefaultParams returns the assumptions used when nothing is configured.
func DefaultParams() Params {
	return Params{
		LoanYears:        25,
		DownPaymentPct:   20,
		VacantMonths:     1,
		RentGrowthPct:    1,
		PriceGrowthPct:   2,
		RenovationBudget: 5000,
		TaxPct:           30,
	}
}

// CashFlows returns the yearly free cash flow to equity of a leveraged
// purchase. Index 0 is the down payment (negative), followed by one entry per
// loan year. interestRate is the yearly mortgage rate in percent.
func (p Params) CashFlows(price, rent, additionalCost, interestRate float64) []float64 {
	loan := price + p.RenovationBudget
	downPayment := (p.DownPaymentPct / 100) * loan
	principal := loan - downPayment
	rate := interestRate / 100
	years := float64(p.LoanYears)

	flows := make([]float64, 0, p.LoanYears+1)
	flows = append(flows, -downPayment)

	for year := 1; year <= p.LoanYears; year++ {
		income := p.yearlyRent(year, rent)
		vacancy := -(income / 12) * p.VacantMonths
		depreciation := -(p.RenovationBudget / years)
		fixedCosts := -additionalCost * 12

		ebit := income + vacancy + fixedCosts + depreciation
		taxes := -ebit * (p.TaxPct / 100)

		interest := InterestPayment(rate, float64(year), years, principal)
		principalPart := PrincipalPayment(rate, float64(year), years, principal)
		fcf := ebit + taxes - depreciation + interest + principalPart

		appreciation := ValuationIncrease(price, p.PriceGrowthPct/100, year)
		flows = append(flows, fcf+appreciation-principalPart)
	}
	return flows
}

// IRR returns the leveraged internal rate of return in percent.
//
// Unusable inputs (non-positive price or rent), cash flows without a usable
// root and results outside ±MaxAbsYield all give 0.
func (p Params) IRR(price, rent, additionalCost, interestRate float64) float64 {
	if price <= 0 || rent <= 0 || p.LoanYears <= 0 {
		return 0
	}
	rate, ok := IRR(p.CashFlows(price, rent, additionalCost, interestRate))
	if !ok {
		return 0
	}
	return Clamp(rate * 100)
}

// Clamp returns pct, or 0 when pct is not finite or outside ±MaxAbsYield.
func Clamp(pct float64) float64 {
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0
	}
	if pct < -MaxAbsYield || pct > MaxAbsYield {
		return 0
	}
	return pct
}

func (p Params) yearlyRent(year int, monthlyRent float64) float64 {
	multiplier := math.Pow(1+p.RentGrowthPct/100, float64(year-1))
	return monthlyRent * multiplier * 12
}
