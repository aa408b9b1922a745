package agent

import (
	"testing"

	"github.com/shopspring/decimal"

	"agent-core/internal/lending"
	"agent-core/internal/strategy"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

var loopDef = strategy.Definition{
	ID:                 "eth-usdc-loop",
	CollateralToken:    "wstETH",
	DebtToken:          "USDC",
	TargetLTV:          0.65,
	MaxLTV:             0.77,
	RebalanceThreshold: 0.05,
}

func TestDecide(t *testing.T) {
	cases := []struct {
		name       string
		collateral string
		debt       string
		want       Action
	}{
		{"no collateral", "0", "0", ActionHold},
		{"at target", "1000", "650", ActionHold},
		{"inside band high", "1000", "690", ActionHold},
		{"inside band low", "1000", "610", ActionHold},
		{"above band", "1000", "720", ActionRepay},
		{"below band", "1000", "400", ActionBorrow},
		{"at max", "1000", "770", ActionDelever},
		{"above max", "1000", "850", ActionDelever},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos := lending.VaultPosition{Collateral: dec(tc.collateral), Debt: dec(tc.debt)}
			d := Decide(loopDef, pos)
			if d.Action != tc.want {
				t.Fatalf("action=%s, want %s (reason=%s)", d.Action, tc.want, d.Reason)
			}
		})
	}
}

func TestDecideAmountsRestoreTarget(t *testing.T) {
	target := dec("0.65")

	under := lending.VaultPosition{Collateral: dec("1000"), Debt: dec("400")}
	d := Decide(loopDef, under)
	after := lending.VaultPosition{Collateral: under.Collateral.Add(d.Amount), Debt: under.Debt.Add(d.Amount)}
	if !after.LTV().Sub(target).Abs().LessThan(dec("0.0001")) {
		t.Fatalf("post-borrow LTV=%s", after.LTV())
	}

	over := lending.VaultPosition{Collateral: dec("1000"), Debt: dec("850")}
	d = Decide(loopDef, over)
	after = lending.VaultPosition{Collateral: over.Collateral.Sub(d.Amount), Debt: over.Debt.Sub(d.Amount)}
	if !after.LTV().Sub(target).Abs().LessThan(dec("0.0001")) {
		t.Fatalf("post-deleverage LTV=%s", after.LTV())
	}
}
