package yield

import "math"

// Payment returns the constant payment per period of a loan of pv over
// periods at rate. The sign follows the spreadsheet convention: a positive
// loan gives a negative payment.
func Payment(rate, periods, pv float64) float64 {
	if rate == 0 {
		return -pv / periods
	}
	return (rate / (1 - math.Pow(1+rate, -periods))) * -pv
}

// FutureValue returns the balance after periods payments of c on a loan of pv.
func FutureValue(rate, periods, c, pv float64) float64 {
	if rate == 0 {
		return -(pv + c*periods)
	}
	growth := math.Pow(1+rate, periods)
	return -(c*(growth-1)/rate + pv*growth)
}

// InterestPayment returns the interest part of the payment made in period
// (1-based) out of totalPeriods.
func InterestPayment(rate, period, totalPeriods, pv float64) float64 {
	payment := Payment(rate, totalPeriods, pv)
	return FutureValue(rate, period-1, payment, pv) * rate
}

// PrincipalPayment returns the principal part of the payment made in period.
func PrincipalPayment(rate, period, totalPeriods, pv float64) float64 {
	return Payment(rate, totalPeriods, pv) - InterestPayment(rate, period, totalPeriods, pv)
}

// ValuationIncrease returns how much a property bought at price appreciates
// during year when it grows by growth (fraction) per year.
func ValuationIncrease(price, growth float64, year int) float64 {
	thisYear := price * math.Pow(1+growth, float64(year))
	lastYear := price * math.Pow(1+growth, float64(year)-1)
	return thisYear - lastYear
}
