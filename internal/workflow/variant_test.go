package workflow

import (
	"testing"

	"backoffice/internal/model"
)

func TestVariantRegistry(t *testing.T) {
	all := Variants()
	if len(all) != 10 {
		t.Fatalf("registered %d variants, want 10", len(all))
	}

	seenResource := map[string]bool{}
	seenPrefix := map[string]bool{}
	for _, v := range all {
		if seenResource[v.Resource] {
			t.Errorf("duplicate resource %q", v.Resource)
		}
		if seenPrefix[v.CodePrefix] {
			t.Errorf("duplicate code prefix %q", v.CodePrefix)
		}
		seenResource[v.Resource] = true
		seenPrefix[v.CodePrefix] = true

		got, ok := VariantFor(v.Type)
		if !ok || got.Resource != v.Resource {
			t.Errorf("VariantFor(%q) lookup failed", v.Type)
		}
	}

	if _, ok := VariantFor("invoice"); ok {
		t.Error("unknown type resolved to a variant")
	}
}

func TestInitialStatus(t *testing.T) {
	pcr, _ := VariantFor(model.TypePurchaseRequest)
	if got := pcr.InitialStatus(false); got != model.StatusDraft {
		t.Errorf("unsubmitted create = %s, want draft", got)
	}
	if got := pcr.InitialStatus(true); got != model.StatusPending {
		t.Errorf("submitted create = %s, want pending", got)
	}

	// Purchase orders have no draft stage.
	po, _ := VariantFor(model.TypePurchaseOrder)
	if got := po.InitialStatus(false); got != model.StatusPending {
		t.Errorf("draftless create = %s, want pending", got)
	}
}

func TestAllowsStatus(t *testing.T) {
	pcr, _ := VariantFor(model.TypePurchaseRequest)
	po, _ := VariantFor(model.TypePurchaseOrder)

	if !pcr.AllowsStatus(model.StatusReviewed) {
		t.Error("purchase request should pass through review")
	}
	if po.AllowsStatus(model.StatusReviewed) {
		t.Error("purchase order should skip review")
	}
	if po.AllowsStatus(model.StatusDraft) {
		t.Error("purchase order should have no draft stage")
	}
	if pcr.AllowsStatus("archived") {
		t.Error("unknown status allowed")
	}
}
