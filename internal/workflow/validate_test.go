package workflow

import (
	"testing"
	"time"

	"backoffice/internal/model"
	"backoffice/pkg/apperr"

	"github.com/shopspring/decimal"
)

func item(unitCost int64, quantity, frequency int) model.LineItem {
	return model.LineItem{
		Description: "item",
		UnitCost:    decimal.NewFromInt(unitCost),
		Quantity:    quantity,
		Frequency:   frequency,
	}
}

func TestRecomputeTotals(t *testing.T) {
	req := &model.Request{
		LineItems: []model.LineItem{
			item(100, 2, 1),
			item(50, 1, 3),
		},
	}

	RecomputeTotals(req)

	if got := req.LineItems[0].Total.String(); got != "200" {
		t.Errorf("line 0 total = %s, want 200", got)
	}
	if got := req.LineItems[1].Total.String(); got != "150" {
		t.Errorf("line 1 total = %s, want 150", got)
	}
	if got := req.TotalAmount.String(); got != "350" {
		t.Errorf("total_amount = %s, want 350", got)
	}

	// Editing a quantity and recomputing replaces the totals rather than
	// accumulating onto them.
	req.LineItems[0].Quantity = 3
	RecomputeTotals(req)

	if got := req.LineItems[0].Total.String(); got != "300" {
		t.Errorf("line 0 total after edit = %s, want 300", got)
	}
	if got := req.TotalAmount.String(); got != "450" {
		t.Errorf("total_amount after edit = %s, want 450", got)
	}

	// Recomputation is idempotent.
	RecomputeTotals(req)
	if got := req.TotalAmount.String(); got != "450" {
		t.Errorf("total_amount after second recompute = %s, want 450", got)
	}
}

func TestRecomputeTotalsEmpty(t *testing.T) {
	req := &model.Request{TotalAmount: decimal.NewFromInt(999)}
	RecomputeTotals(req)
	if !req.TotalAmount.IsZero() {
		t.Errorf("total_amount = %s, want 0 with no line items", req.TotalAmount)
	}
}

func TestValidateDraftOnlyNeedsTitle(t *testing.T) {
	v, _ := VariantFor(model.TypePurchaseRequest)

	req := &model.Request{RequestType: model.TypePurchaseRequest, Status: model.StatusDraft}
	err := Validate(v, req)
	fields := apperr.FieldErrors(err)
	if fields["title"] == "" {
		t.Error("missing title not reported")
	}
	if len(fields) != 1 {
		t.Errorf("draft validation reported %v, want title only", fields)
	}

	req.Title = "chairs"
	if err := Validate(v, req); err != nil {
		t.Errorf("titled draft: %v", err)
	}
}

func TestValidateSubmittedPurchaseRequest(t *testing.T) {
	v, _ := VariantFor(model.TypePurchaseRequest)

	req := &model.Request{
		RequestType: model.TypePurchaseRequest,
		Status:      model.StatusPending,
		Title:       "chairs",
	}
	err := Validate(v, req)
	fields := apperr.FieldErrors(err)
	for _, f := range []string{"department", "expense_charged_to", "account_code", "line_items"} {
		if fields[f] == "" {
			t.Errorf("missing %s not reported: %v", f, fields)
		}
	}

	req.Department = "Operations"
	req.ExpenseChargedTo = "Project X"
	req.AccountCode = "OPX-100"
	req.LineItems = []model.LineItem{item(100, 2, 1)}
	if err := Validate(v, req); err != nil {
		t.Errorf("complete request: %v", err)
	}
}

func TestValidateLineItemFields(t *testing.T) {
	v, _ := VariantFor(model.TypeAdvanceRequest)

	req := &model.Request{
		RequestType: model.TypeAdvanceRequest,
		Status:      model.StatusPending,
		Title:       "advance",
		LineItems: []model.LineItem{
			item(100, 2, 1),
			{Description: "", UnitCost: decimal.NewFromInt(-5), Quantity: 0, Frequency: 0},
		},
	}

	fields := apperr.FieldErrors(Validate(v, req))
	for _, key := range []string{
		"line_items[1].description",
		"line_items[1].unit_cost",
		"line_items[1].quantity",
		"line_items[1].frequency",
	} {
		if fields[key] == "" {
			t.Errorf("missing %s in %v", key, fields)
		}
	}
	if _, ok := fields["line_items[0].description"]; ok {
		t.Error("valid line item reported as invalid")
	}
}

func TestValidateDates(t *testing.T) {
	v, _ := VariantFor(model.TypeLeave)

	req := &model.Request{RequestType: model.TypeLeave, Status: model.StatusPending, Title: "leave"}
	fields := apperr.FieldErrors(Validate(v, req))
	if fields["start_date"] == "" || fields["end_date"] == "" {
		t.Errorf("missing dates not reported: %v", fields)
	}

	start := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)
	req.StartDate = &start
	req.EndDate = &end
	fields = apperr.FieldErrors(Validate(v, req))
	if fields["end_date"] == "" {
		t.Errorf("inverted range not reported: %v", fields)
	}

	end = start.AddDate(0, 0, 5)
	req.EndDate = &end
	if err := Validate(v, req); err != nil {
		t.Errorf("valid range: %v", err)
	}
}

func TestValidateAmount(t *testing.T) {
	v, _ := VariantFor(model.TypePaymentVoucher)

	req := &model.Request{RequestType: model.TypePaymentVoucher, Status: model.StatusPending, Title: "voucher"}
	fields := apperr.FieldErrors(Validate(v, req))
	if fields["gross_amount"] == "" {
		t.Errorf("zero amount not reported: %v", fields)
	}

	req.GrossAmount = decimal.NewFromInt(1200)
	if err := Validate(v, req); err != nil {
		t.Errorf("positive amount: %v", err)
	}
}
