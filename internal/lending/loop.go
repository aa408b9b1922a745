package lending

import "github.com/shopspring/decimal"

// Leverage-loop sizing. Amounts are in the market's value unit; borrowed
// funds are assumed to be swapped and redeposited as collateral, so both
// sides of the ratio move together.

// BorrowToTarget returns the borrow size that brings a position up to the
// target LTV, zero when the position is already at or above target.
// Solves (debt+x)/(collateral+x) = target.
func BorrowToTarget(p VaultPosition, target decimal.Decimal) decimal.Decimal {
	if p.Collateral.IsZero() || target.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero
	}
	x := target.Mul(p.Collateral).Sub(p.Debt).Div(decimal.NewFromInt(1).Sub(target))
	if x.IsNegative() {
		return decimal.Zero
	}
	return x
}

// RepayToTarget returns the repay size that brings a position down to the
// target LTV, zero when the position is already at or below target. The
// repayment is funded by unwinding collateral, so both sides shrink.
// Solves (debt-x)/(collateral-x) = target.
func RepayToTarget(p VaultPosition, target decimal.Decimal) decimal.Decimal {
	if p.Collateral.IsZero() || target.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero
	}
	x := p.Debt.Sub(target.Mul(p.Collateral)).Div(decimal.NewFromInt(1).Sub(target))
	if x.IsNegative() {
		return decimal.Zero
	}
	if x.GreaterThan(p.Debt) {
		return p.Debt
	}
	return x
}
