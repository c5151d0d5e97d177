package workflow

import "backoffice/internal/model"

// Variant describes how one request type behaves: which URL resource it is
// served under, how its codes look, which statuses it can hold, and which
// optional features (line items, RFQ dispatch) apply to it. Handlers and
// services are generic over this descriptor instead of duplicating
// per-variant code paths.
type Variant struct {
	Type       string
	Resource   string // URL path segment, e.g. "purchase-requests"
	CodePrefix string // e.g. "PCR" -> codes "PCR-0001"

	// SkipsReview collapses the flow to pending -> approved|rejected
	// (purchase orders have no draft and no review step).
	SkipsReview bool
	HasDraft    bool

	HasLineItems bool
	HasDispatch  bool // RFQ preview/sent/cancelled lifecycle

	// RequiredFields beyond title: validated on submit (not on save-as-draft)
	RequiredFields []string
	NeedsAmount    bool // gross_amount > 0 required (payment voucher)
	NeedsDates     bool // start/end dates required (leave, travel)
}

var variants = []Variant{
	{
		Type:           model.TypePurchaseRequest,
		Resource:       "purchase-requests",
		CodePrefix:     "PCR",
		HasDraft:       true,
		HasLineItems:   true,
		RequiredFields: []string{"department", "expense_charged_to", "account_code"},
	},
	{
		Type:         model.TypeAdvanceRequest,
		Resource:     "advance-requests",
		CodePrefix:   "ADV",
		HasDraft:     true,
		HasLineItems: true,
	},
	{
		Type:         model.TypeTravelRequest,
		Resource:     "travel-requests",
		CodePrefix:   "TRV",
		HasDraft:     true,
		HasLineItems: true,
		NeedsDates:   true,
	},
	{
		Type:         model.TypeExpenseClaim,
		Resource:     "expense-claims",
		CodePrefix:   "EXC",
		HasDraft:     true,
		HasLineItems: true,
	},
	{
		Type:       model.TypeConceptNote,
		Resource:   "concept-notes",
		CodePrefix: "CON",
		HasDraft:   true,
	},
	{
		Type:       model.TypeLeave,
		Resource:   "leaves",
		CodePrefix: "LVE",
		HasDraft:   true,
		NeedsDates: true,
	},
	{
		Type:        model.TypePaymentVoucher,
		Resource:    "payment-vouchers",
		CodePrefix:  "PVR",
		HasDraft:    true,
		NeedsAmount: true,
	},
	{
		Type:         model.TypeRFQ,
		Resource:     "rfqs",
		CodePrefix:   "RFQ",
		HasDraft:     true,
		HasLineItems: true,
		HasDispatch:  true,
	},
	{
		Type:         model.TypePurchaseOrder,
		Resource:     "purchase-orders",
		CodePrefix:   "PO",
		SkipsReview:  true,
		HasLineItems: true,
	},
	{
		Type:       model.TypeGoodsReceivedNote,
		Resource:   "goods-received-notes",
		CodePrefix: "GRN",
		HasDraft:   true,
	},
}

var variantsByType = func() map[string]Variant {
	m := make(map[string]Variant, len(variants))
	for _, v := range variants {
		m[v.Type] = v
	}
	return m
}()

// Variants returns all registered variant descriptors in registration order
func Variants() []Variant {
	out := make([]Variant, len(variants))
	copy(out, variants)
	return out
}

// VariantFor looks up the descriptor for a request type
func VariantFor(requestType string) (Variant, bool) {
	v, ok := variantsByType[requestType]
	return v, ok
}

// InitialStatus is the status a freshly created request takes: draft when the
// variant supports drafts and the creator did not submit immediately,
// otherwise pending.
func (v Variant) InitialStatus(submit bool) string {
	if v.HasDraft && !submit {
		return model.StatusDraft
	}
	return model.StatusPending
}

// AllowsStatus reports whether the variant's lifecycle contains the status
func (v Variant) AllowsStatus(status string) bool {
	switch status {
	case model.StatusDraft:
		return v.HasDraft
	case model.StatusReviewed:
		return !v.SkipsReview
	case model.StatusPending, model.StatusApproved, model.StatusRejected:
		return true
	default:
		return false
	}
}
