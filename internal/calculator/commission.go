// Package calculator computes per-party commission splits for a payment.
package calculator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance allowed when checking that a table sums to one.
var Epsilon = decimal.RequireFromString("0.0001")

// Table maps a role to its share of a payment, e.g. lawyer -> 0.20.
type Table map[domain.Role]decimal.Decimal

// Beneficiaries maps a role to the user who receives that role's split for one case.
// A role missing from the map has no resolvable beneficiary.
type Beneficiaries map[domain.Role]uuid.UUID

// Split is one beneficiary's share of a payment.
type Split struct {
	Role          domain.Role
	BeneficiaryID uuid.UUID
	Amount        domain.Money
	Percentage    decimal.Decimal
}

// ParseTable parses "platform=0.30,lawyer=0.20,sales=0,institution=0.50".
func ParseTable(raw string) (Table, error) {
	table := Table{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: malformed entry %q", domain.ErrSplitConfiguration, part)
		}
		role, ok := domain.ParseRole(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown role %q", domain.ErrSplitConfiguration, name)
		}
		if _, dup := table[role]; dup {
			return nil, fmt.Errorf("%w: role %s listed twice", domain.ErrSplitConfiguration, role)
		}
		pct, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%w: percentage for %s: %v", domain.ErrSplitConfiguration, role, err)
		}
		table[role] = pct
	}
	return table, nil
}

// Validate checks every percentage is within [0,1], the table sums to 1 within
// Epsilon, and the non-platform roles together never exceed 1.
func (t Table) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: empty percentage table", domain.ErrSplitConfiguration)
	}
	if err := t.checkRanges(); err != nil {
		return err
	}
	if _, ok := t[domain.RolePlatform]; !ok {
		return fmt.Errorf("%w: platform role is required", domain.ErrSplitConfiguration)
	}
	sum := t.sum()
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(Epsilon) {
		return fmt.Errorf("%w: percentages sum to %s, want 1.00", domain.ErrSplitConfiguration, sum.String())
	}
	// Epsilon slack belongs to the platform only: if the other roles could
	// claim more than the whole payment, ComputeSplits would have no remainder.
	if others := sum.Sub(t[domain.RolePlatform]); others.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: non-platform percentages sum to %s, above 1.00", domain.ErrSplitConfiguration, others.String())
	}
	return nil
}

// String renders the table in ParseTable format with roles sorted by name.
func (t Table) String() string {
	parts := make([]string, 0, len(t))
	for role, pct := range t {
		parts = append(parts, string(role)+"="+pct.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (t Table) checkRanges() error {
	one := decimal.NewFromInt(1)
	for role, pct := range t {
		if pct.IsNegative() || pct.GreaterThan(one) {
			return fmt.Errorf("%w: %s percentage %s out of range", domain.ErrSplitConfiguration, role, pct.String())
		}
	}
	return nil
}

func (t Table) sum() decimal.Decimal {
	total := decimal.Zero
	for _, pct := range t {
		total = total.Add(pct)
	}
	return total
}

// ComputeSplits divides amount among the roles in table.
//
// Each non-platform role with a positive percentage and a beneficiary receives
// floor(amount * pct) fen. Roles without a beneficiary are skipped, so their share
// falls through to the platform, which receives amount minus everything else.
// The returned splits always sum to amount exactly.
func ComputeSplits(amount domain.Money, table Table, beneficiaries Beneficiaries) ([]Split, error) {
	if !amount.Positive() {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}
	if err := table.checkRanges(); err != nil {
		return nil, err
	}
	platformID, ok := beneficiaries[domain.RolePlatform]
	if !ok || platformID == uuid.Nil {
		return nil, fmt.Errorf("%w: platform beneficiary is not configured", domain.ErrSplitConfiguration)
	}

	splits := make([]Split, 0, len(table))
	allocated := domain.Money(0)
	allocatedPct := decimal.Zero
	for _, role := range domain.Roles {
		if role == domain.RolePlatform {
			continue
		}
		pct, ok := table[role]
		if !ok || !pct.IsPositive() {
			continue
		}
		userID, ok := beneficiaries[role]
		if !ok || userID == uuid.Nil {
			continue
		}
		share := amount.MulFloor(pct)
		if share == 0 {
			continue
		}
		allocated += share
		allocatedPct = allocatedPct.Add(pct)
		splits = append(splits, Split{
			Role:          role,
			BeneficiaryID: userID,
			Amount:        share,
			Percentage:    pct,
		})
	}

	remainder := amount - allocated
	if remainder < 0 {
		return nil, fmt.Errorf("%w: non-platform shares exceed the payment", domain.ErrSplitConfiguration)
	}
	if remainder > 0 {
		splits = append(splits, Split{
			Role:          domain.RolePlatform,
			BeneficiaryID: platformID,
			Amount:        remainder,
			Percentage:    decimal.NewFromInt(1).Sub(allocatedPct),
		})
	}
	return splits, nil
}

// Total sums the amounts of splits.
func Total(splits []Split) domain.Money {
	var total domain.Money
	for _, s := range splits {
		total += s.Amount
	}
	return total
}
