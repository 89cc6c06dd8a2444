package codegen

import (
	"github.com/shopspring/decimal"

	"github.com/algomatic/pinec/pkg/ast"
	"github.com/algomatic/pinec/pkg/types"
)

var commissionTypes = map[string]string{
	"strategy.commission.percent":           "percent",
	"strategy.commission.cash_per_order":    "cash_per_order",
	"strategy.commission.cash_per_contract": "cash_per_contract",
}

// declSettings reads the accounting arguments of a strategy declaration.
// Other declaration arguments (overlay, pyramiding, ...) are accepted and
// ignored.
func declSettings(decl *ast.StrategyDecl) (types.Settings, error) {
	s := types.DefaultSettings()
	if decl.Kind != "strategy" {
		return s, nil
	}
	for _, a := range decl.Args {
		var err error
		switch a.Name {
		case "initial_capital":
			if s.InitialCapital, err = decimalArg(a); err == nil && !s.InitialCapital.IsPositive() {
				err = errorf(a.Value, a.Name, "must be positive")
			}
		case "commission_value":
			if s.Commission, err = decimalArg(a); err == nil && s.Commission.IsNegative() {
				err = errorf(a.Value, a.Name, "must not be negative")
			}
		case "slippage":
			if s.Slippage, err = decimalArg(a); err == nil && s.Slippage.IsNegative() {
				err = errorf(a.Value, a.Name, "must not be negative")
			}
		case "commission_type":
			id, ok := a.Value.(*ast.Ident)
			if !ok || commissionTypes[id.Name] == "" {
				return s, errorf(a.Value, a.Name, "must be one of strategy.commission.percent, cash_per_order or cash_per_contract")
			}
			s.CommissionType = commissionTypes[id.Name]
		}
		if err != nil {
			return s, err
		}
	}
	return s, nil
}

// decimalArg reads a numeric literal exactly as written.
func decimalArg(a ast.Arg) (decimal.Decimal, error) {
	e, neg := a.Value, false
	if u, ok := e.(*ast.UnaryExpr); ok && u.Op == "-" {
		e, neg = u.X, true
	}
	n, ok := e.(*ast.NumberLit)
	if !ok {
		return decimal.Zero, errorf(a.Value, a.Name, "must be a numeric literal")
	}
	d, err := decimal.NewFromString(n.Text)
	if err != nil {
		d = decimal.NewFromFloat(n.Value)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}
