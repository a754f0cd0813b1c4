package account

import (
	"fmt"

	"ledger/pkg/money"
)

// Policy is the creation rule set for one account type
type Policy struct {
	// MinimumInitial is the smallest accepted opening deposit
	MinimumInitial money.Money
	// MinBalance becomes the account's floor. Nil leaves the floor at zero.
	MinBalance *money.Money
}

// PolicyTable maps account types to their policy
type PolicyTable map[Type]Policy

// DefaultPolicies returns the standard table:
// DEPOSIT opens with 1,000 and has no floor; SAVINGS opens with 10,000 and
// must keep 10,000.
func DefaultPolicies() PolicyTable {
	savingsFloor := money.FromInt(10000)
	return PolicyTable{
		TypeDeposit: {MinimumInitial: money.FromInt(1000)},
		TypeSavings: {MinimumInitial: money.FromInt(10000), MinBalance: &savingsFloor},
	}
}

// Lookup returns the policy for typ
func (t PolicyTable) Lookup(typ Type) (Policy, error) {
	p, ok := t[typ]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return p, nil
}

// ParseType converts user input into a known Type
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeDeposit, TypeSavings:
		return Type(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}
