package workflow

import (
	"time"

	"backoffice/internal/model"
	"backoffice/pkg/apperr"

	"github.com/google/uuid"
)

// Actor is the acting user, passed explicitly into every policy decision.
type Actor struct {
	ID   uuid.UUID
	Role string
}

// IsAdmin reports admin capability
func (a Actor) IsAdmin() bool {
	return a.Role == model.RoleAdmin
}

// CanApprove reports approver capability (reviewed -> approved|rejected)
func (a Actor) CanApprove() bool {
	return a.Role == model.RoleAdmin || a.Role == model.RoleApprover
}

// CanReview reports reviewer capability (pending -> reviewed|rejected)
func (a Actor) CanReview() bool {
	return a.CanApprove() || a.Role == model.RoleReviewer
}

// AllowedNext returns the legal next statuses from the request's current
// status under its variant, regardless of actor. Terminal statuses return nil.
func AllowedNext(v Variant, status string) []string {
	switch status {
	case model.StatusDraft:
		return []string{model.StatusPending}
	case model.StatusPending:
		if v.SkipsReview {
			return []string{model.StatusApproved, model.StatusRejected}
		}
		return []string{model.StatusReviewed, model.StatusRejected}
	case model.StatusReviewed:
		return []string{model.StatusApproved, model.StatusRejected}
	default:
		return nil
	}
}

// AllowedNextFor narrows AllowedNext to the edges this actor may take on this
// request right now.
func AllowedNextFor(v Variant, req *model.Request, actor Actor) []string {
	var out []string
	for _, next := range AllowedNext(v, req.Status) {
		if CanTransition(v, req, actor, next) == nil {
			out = append(out, next)
		}
	}
	return out
}

// CanTransition decides whether the actor may move the request to target.
// Returns nil when allowed, a Forbidden error naming the violated rule
// otherwise. Self-review and self-approval are rejected unconditionally.
func CanTransition(v Variant, req *model.Request, actor Actor, target string) error {
	legal := false
	for _, next := range AllowedNext(v, req.Status) {
		if next == target {
			legal = true
			break
		}
	}
	if !legal {
		return apperr.Forbidden("cannot move a " + req.Status + " " + req.RequestType + " to " + target)
	}

	switch req.Status {
	case model.StatusDraft:
		// Only the creator submits their own draft
		if actor.ID != req.CreatedBy {
			return apperr.Forbidden("only the creator can submit a draft")
		}
	case model.StatusPending:
		if actor.ID == req.CreatedBy {
			return apperr.Forbidden("a request cannot be reviewed by its creator")
		}
		if v.SkipsReview {
			if !actor.CanApprove() {
				return apperr.Forbidden("approver capability required")
			}
		} else if !actor.CanReview() {
			return apperr.Forbidden("reviewer capability required")
		}
	case model.StatusReviewed:
		if actor.ID == req.CreatedBy {
			return apperr.Forbidden("a request cannot be approved by its creator")
		}
		if !actor.CanApprove() {
			return apperr.Forbidden("approver capability required")
		}
	}
	return nil
}

// Transition validates the edge and applies it to the request in memory:
// status, reviewed_by/approved_by (each set exactly once) and timestamps.
// Persistence and version bumping are the caller's concern.
func Transition(v Variant, req *model.Request, actor Actor, target string, now time.Time) error {
	if err := CanTransition(v, req, actor, target); err != nil {
		return err
	}

	switch {
	case req.Status == model.StatusPending && target == model.StatusReviewed:
		id := actor.ID
		req.ReviewedBy = &id
		req.ReviewedAt = &now
	case req.Status == model.StatusPending && target == model.StatusApproved,
		req.Status == model.StatusReviewed && target == model.StatusApproved:
		id := actor.ID
		req.ApprovedBy = &id
		req.ApprovedAt = &now
	case target == model.StatusRejected:
		// Rejection records who closed the request in the slot for the
		// step it was rejected at, mirroring the forward transitions.
		id := actor.ID
		if req.Status == model.StatusPending && !v.SkipsReview {
			req.ReviewedBy = &id
			req.ReviewedAt = &now
		} else {
			req.ApprovedBy = &id
			req.ApprovedAt = &now
		}
	}
	req.Status = target
	return nil
}

// CanView reports whether the actor may read the request: the creator,
// anyone in the approval chain by capability, and copied-to recipients.
// Drafts stay private to their creator (and admins).
func CanView(req *model.Request, actor Actor) bool {
	if actor.ID == req.CreatedBy || actor.IsAdmin() {
		return true
	}
	if req.Status == model.StatusDraft {
		return false
	}
	if actor.CanReview() {
		return true
	}
	for _, u := range req.CopiedTo {
		if u.ID == actor.ID {
			return true
		}
	}
	return false
}

// CanEdit allows the creator to edit drafts and not-yet-reviewed requests,
// and admins anything still open.
func CanEdit(req *model.Request, actor Actor) error {
	switch req.Status {
	case model.StatusApproved, model.StatusRejected:
		return apperr.Forbidden("request is closed")
	}
	if actor.ID == req.CreatedBy {
		if req.Status == model.StatusDraft || req.Status == model.StatusPending {
			return nil
		}
		return apperr.Forbidden("request is already under approval")
	}
	if actor.IsAdmin() {
		return nil
	}
	return apperr.Forbidden("only the creator can edit this request")
}

// CanDelete allows creators to discard their own drafts; anything that has
// entered the workflow is admin-only.
func CanDelete(req *model.Request, actor Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.ID == req.CreatedBy && req.Status == model.StatusDraft {
		return nil
	}
	return apperr.Forbidden("only drafts can be deleted by their creator")
}

// CanComment requires read access to the request
func CanComment(req *model.Request, actor Actor) error {
	if !CanView(req, actor) {
		return apperr.Forbidden("no access to this request")
	}
	return nil
}

// CanModifyComment restricts edit/delete to the author or an admin
func CanModifyComment(c *model.Comment, actor Actor) error {
	if actor.ID == c.UserID || actor.IsAdmin() {
		return nil
	}
	return apperr.Forbidden("only the author or an admin can modify a comment")
}

// CanShare allows the creator and reviewer-or-higher capability holders to
// grow the copied-to set. Plain copied-to recipients cannot re-share.
func CanShare(req *model.Request, actor Actor) error {
	if actor.ID == req.CreatedBy || actor.CanReview() {
		return nil
	}
	return apperr.Forbidden("no permission to share this request")
}

// CanAttach gates file uploads: the creator while drafting or while pending,
// again once the request is approved (the post-approval upload window for
// receipts and signed copies), and admins any time.
func CanAttach(req *model.Request, actor Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.ID != req.CreatedBy {
		return apperr.Forbidden("only the creator can attach files")
	}
	switch req.Status {
	case model.StatusDraft, model.StatusPending, model.StatusApproved:
		return nil
	}
	return apperr.Forbidden("uploads are closed while the request is " + req.Status)
}

// CanReassign is the admin-only override for changing the recorded reviewer
// or approver on a reviewed-but-unapproved request.
func CanReassign(req *model.Request, actor Actor) error {
	if !actor.IsAdmin() {
		return apperr.Forbidden("admin capability required to reassign")
	}
	if req.Status != model.StatusReviewed {
		return apperr.Forbidden("only reviewed requests can be reassigned")
	}
	return nil
}

// DispatchNext returns the legal next dispatch status for an RFQ, or "" when
// none. The dispatch lifecycle only opens once the RFQ is approved.
func DispatchNext(req *model.Request) string {
	if req.Status != model.StatusApproved {
		return ""
	}
	switch req.DispatchStatus {
	case model.DispatchNone:
		return model.DispatchPreview
	case model.DispatchPreview:
		return model.DispatchSent
	case model.DispatchSent:
		return model.DispatchCancelled
	default:
		return ""
	}
}

// TransitionDispatch validates and applies an RFQ dispatch edge.
func TransitionDispatch(v Variant, req *model.Request, actor Actor, target string) error {
	if !v.HasDispatch {
		return apperr.Forbidden(req.RequestType + " has no dispatch lifecycle")
	}
	if actor.ID != req.CreatedBy && !actor.IsAdmin() {
		return apperr.Forbidden("only the creator or an admin can dispatch")
	}
	if req.Status != model.StatusApproved {
		return apperr.Forbidden("only approved RFQs can be dispatched")
	}
	if DispatchNext(req) != target || target == "" {
		return apperr.Forbidden("cannot move dispatch from " + req.DispatchStatus + " to " + target)
	}
	req.DispatchStatus = target
	return nil
}
