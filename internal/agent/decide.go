package agent

import (
	"fmt"

	"github.com/shopspring/decimal"

	"agent-core/internal/lending"
	"agent-core/internal/strategy"
)

// Action is what an agent decided to do on one tick.
type Action string

const (
	ActionHold   Action = "hold"
	ActionBorrow Action = "borrow"
	ActionRepay  Action = "repay"
	ActionDelever Action = "deleverage"
)

// Decision is the outcome of evaluating a position against its strategy.
type Decision struct {
	Action Action
	Amount decimal.Decimal
	Reason string
}

// Decide evaluates a position against the strategy's risk geometry. Above max
// LTV the position deleverages immediately; outside the rebalance band it
// drifts back to target; inside the band it holds.
func Decide(def strategy.Definition, pos lending.VaultPosition) Decision {
	if pos.Collateral.IsZero() {
		return Decision{Action: ActionHold, Reason: "no collateral deployed"}
	}

	ltv := pos.LTV()
	target := decimal.NewFromFloat(def.TargetLTV)
	max := decimal.NewFromFloat(def.MaxLTV)
	band := decimal.NewFromFloat(def.RebalanceThreshold)

	switch {
	case ltv.GreaterThanOrEqual(max):
		return Decision{
			Action: ActionDelever,
			Amount: lending.RepayToTarget(pos, target),
			Reason: fmt.Sprintf("ltv %s breached max %s", ltv.StringFixed(4), max.StringFixed(4)),
		}
	case ltv.GreaterThan(target.Add(band)):
		return Decision{
			Action: ActionRepay,
			Amount: lending.RepayToTarget(pos, target),
			Reason: fmt.Sprintf("ltv %s above band around target %s", ltv.StringFixed(4), target.StringFixed(4)),
		}
	case ltv.LessThan(target.Sub(band)):
		return Decision{
			Action: ActionBorrow,
			Amount: lending.BorrowToTarget(pos, target),
			Reason: fmt.Sprintf("ltv %s below band around target %s", ltv.StringFixed(4), target.StringFixed(4)),
		}
	default:
		return Decision{Action: ActionHold, Reason: "within rebalance band"}
	}
}
