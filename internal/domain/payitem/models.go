package payitem

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
)

// Category is the closed set of pay item kinds.
type Category string

const (
	CategoryEarning       Category = "earning"
	CategoryDeduction     Category = "deduction"
	CategoryContribution  Category = "contribution"
	CategoryBenefit       Category = "benefit"
	CategoryReimbursement Category = "reimbursement"
)

// BaseSalaryCode is the earning every company catalog must define for the
// recurring base salary.
const BaseSalaryCode = "BASIC"

var (
	ErrUnknownCategory = errors.New("unknown pay item category")
	ErrNotFound        = errors.New("pay item not found")
	ErrInactive        = errors.New("pay item inactive")
)

func Categories() []Category {
	return []Category{CategoryEarning, CategoryDeduction, CategoryContribution, CategoryBenefit, CategoryReimbursement}
}

func ParseCategory(raw string) (Category, error) {
	c := Category(raw)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, raw)
	}
	return c, nil
}

func (c Category) Valid() bool {
	switch c {
	case CategoryEarning, CategoryDeduction, CategoryContribution, CategoryBenefit, CategoryReimbursement:
		return true
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

func (c Category) Value() (driver.Value, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, string(c))
	}
	return string(c), nil
}

func (c *Category) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("scan category: unsupported type %T", src)
	}
	parsed, err := ParseCategory(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

type PayItem struct {
	ID               string   `json:"id"`
	CompanyID        string   `json:"companyId"`
	Code             string   `json:"code"`
	Name             string   `json:"name"`
	Category         Category `json:"category"`
	Taxable          bool     `json:"taxable"`
	ReducesTaxable   bool     `json:"reducesTaxable"`
	InsuranceSubject bool     `json:"insuranceSubject"`
	LevySubject      bool     `json:"levySubject"`
	LedgerAccount    string   `json:"ledgerAccount"`
	Active           bool     `json:"active"`
}

// Catalog indexes a company's pay items by code.
type Catalog struct {
	items map[string]PayItem
}

func NewCatalog(items []PayItem) Catalog {
	c := Catalog{items: make(map[string]PayItem, len(items))}
	for _, item := range items {
		c.items[item.Code] = item
	}
	return c
}

// Resolve returns the active item for code.
func (c Catalog) Resolve(code string) (PayItem, error) {
	item, ok := c.items[code]
	if !ok {
		return PayItem{}, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	if !item.Active {
		return PayItem{}, fmt.Errorf("%w: %s", ErrInactive, code)
	}
	return item, nil
}

func (c Catalog) Len() int {
	return len(c.items)
}

// Items returns the catalog sorted by code.
func (c Catalog) Items() []PayItem {
	out := make([]PayItem, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
