package workflow

import (
	"strconv"
	"strings"

	"backoffice/internal/model"
	"backoffice/pkg/apperr"

	"github.com/shopspring/decimal"
)

// RecomputeTotals derives every line total and the request total from their
// inputs. It is a full recomputation on every call; totals are never
// incrementally adjusted, so they cannot drift from the line items.
func RecomputeTotals(req *model.Request) {
	sum := decimal.Zero
	for i := range req.LineItems {
		item := &req.LineItems[i]
		item.Total = item.UnitCost.
			Mul(decimal.NewFromInt(int64(item.Quantity))).
			Mul(decimal.NewFromInt(int64(item.Frequency)))
		sum = sum.Add(item.Total)
	}
	req.TotalAmount = sum
}

// Validate enforces the variant's field-level invariants before the request
// is persisted. Drafts only need a title; the full rule set applies when the
// request is (being) submitted. Returns a ValidationError carrying a
// field-keyed message map, or nil.
func Validate(v Variant, req *model.Request) error {
	fields := map[string]string{}

	if strings.TrimSpace(req.Title) == "" {
		fields["title"] = "title is required"
	}

	if req.Status != model.StatusDraft {
		for _, f := range v.RequiredFields {
			if strings.TrimSpace(requiredFieldValue(req, f)) == "" {
				fields[f] = f + " is required"
			}
		}
		if v.NeedsAmount && !req.GrossAmount.IsPositive() {
			fields["gross_amount"] = "gross_amount must be greater than zero"
		}
		if v.NeedsDates {
			if req.StartDate == nil {
				fields["start_date"] = "start_date is required"
			}
			if req.EndDate == nil {
				fields["end_date"] = "end_date is required"
			}
			if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
				fields["end_date"] = "end_date must not be before start_date"
			}
		}
		if v.HasLineItems && len(req.LineItems) == 0 {
			fields["line_items"] = "at least one line item is required"
		}
	}

	for i, item := range req.LineItems {
		key := "line_items[" + strconv.Itoa(i) + "]"
		if strings.TrimSpace(item.Description) == "" {
			fields[key+".description"] = "description is required"
		}
		if item.UnitCost.IsNegative() {
			fields[key+".unit_cost"] = "unit_cost must not be negative"
		}
		if item.Quantity <= 0 {
			fields[key+".quantity"] = "quantity must be greater than zero"
		}
		if item.Frequency <= 0 {
			fields[key+".frequency"] = "frequency must be greater than zero"
		}
	}

	if len(fields) > 0 {
		return apperr.Validation(fields)
	}
	return nil
}

func requiredFieldValue(req *model.Request, field string) string {
	switch field {
	case "department":
		return req.Department
	case "expense_charged_to":
		return req.ExpenseChargedTo
	case "account_code":
		return req.AccountCode
	case "description":
		return req.Description
	default:
		return "-" // unknown descriptor entries never fail validation
	}
}
