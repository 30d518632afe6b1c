package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewID returns a fresh identifier for documents, children and attachments.
func NewID() string { return uuid.NewString() }

func indexByID[T any](items []T, id string, key func(*T) string) int {
	for i := range items {
		if key(&items[i]) == id {
			return i
		}
	}
	return -1
}

func removeAt[T any](items []T, i int) []T {
	return append(items[:i:i], items[i+1:]...)
}

func ensureID(id *string) {
	if *id == "" {
		*id = NewID()
	}
}

// LineItem is a priced row of a budget, activity, supply list or e-Face.
type LineItem struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Unit        string          `json:"unit,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	NoUnits     decimal.Decimal `json:"no_units"`
	UnicefCash  decimal.Decimal `json:"unicef_cash"`
	PartnerCash decimal.Decimal `json:"cso_cash"`
}

// Total is unit price times number of units.
func (i LineItem) Total() decimal.Decimal {
	return i.UnitPrice.Mul(i.NoUnits)
}

// Validate checks the item in isolation and reports under prefix.
func (i LineItem) Validate(prefix string) FieldErrors {
	errs := FieldErrors{}
	if i.UnitPrice.IsNegative() {
		errs.Add(prefix+".unit_price", "Unit price must not be negative.")
	}
	if !i.NoUnits.IsPositive() {
		errs.Add(prefix+".no_units", "Number of units must be positive.")
	}
	if !i.UnicefCash.Add(i.PartnerCash).Equal(i.Total()) {
		errs.Add(prefix+".unicef_cash", "UNICEF and partner contributions must add up to the item total.")
	}
	return errs
}

// Budget holds totals derived from line items.
type Budget struct {
	Currency            string          `json:"currency"`
	UnicefCash          decimal.Decimal `json:"unicef_cash"`
	PartnerContribution decimal.Decimal `json:"partner_contribution"`
	Total               decimal.Decimal `json:"total"`
}

func sumItems(groups ...[]LineItem) Budget {
	var b Budget
	for _, items := range groups {
		for _, it := range items {
			b.UnicefCash = b.UnicefCash.Add(it.UnicefCash)
			b.PartnerContribution = b.PartnerContribution.Add(it.PartnerCash)
			b.Total = b.Total.Add(it.Total())
		}
	}
	return b
}

func compareBudget(prefix string, stored, computed Budget) FieldErrors {
	errs := FieldErrors{}
	if !stored.Total.Equal(computed.Total) {
		errs.Add(prefix+".total", "Total does not match the sum of items.")
	}
	if !stored.UnicefCash.Equal(computed.UnicefCash) {
		errs.Add(prefix+".unicef_cash", "UNICEF cash does not match the sum of items.")
	}
	if !stored.PartnerContribution.Equal(computed.PartnerContribution) {
		errs.Add(prefix+".partner_contribution", "Partner contribution does not match the sum of items.")
	}
	return errs
}

func addLineItem(items *[]LineItem, item LineItem) (LineItem, error) {
	ensureID(&item.ID)
	if errs := item.Validate("item"); !errs.Empty() {
		return LineItem{}, ValidationFailed("add item", errs)
	}
	*items = append(*items, item)
	return item, nil
}

func updateLineItem(items *[]LineItem, id string, fn func(*LineItem) error) (LineItem, error) {
	i := indexByID(*items, id, func(it *LineItem) string { return it.ID })
	if i < 0 {
		return LineItem{}, ChildNotFound("update item", "item", id)
	}
	cp := (*items)[i]
	if err := fn(&cp); err != nil {
		return LineItem{}, err
	}
	cp.ID = id
	if errs := cp.Validate("item"); !errs.Empty() {
		return LineItem{}, ValidationFailed("update item", errs)
	}
	(*items)[i] = cp
	return cp, nil
}

func removeLineItem(items *[]LineItem, id string) error {
	i := indexByID(*items, id, func(it *LineItem) string { return it.ID })
	if i < 0 {
		return ChildNotFound("remove item", "item", id)
	}
	*items = removeAt(*items, i)
	return nil
}
