package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"backoffice/internal/model"
	"backoffice/internal/repository"
	"backoffice/internal/workflow"
	"backoffice/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// --- In-memory fakes ---

type fakeRequestRepo struct {
	mu         sync.Mutex
	requests   map[uuid.UUID]*model.Request
	lastFilter repository.RequestFilter
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{
		requests: map[uuid.UUID]*model.Request{},
	}
}

func (f *fakeRequestRepo) store(req *model.Request) {
	cp := *req
	cp.LineItems = append([]model.LineItem(nil), req.LineItems...)
	cp.CopiedTo = append([]model.User(nil), req.CopiedTo...)
	cp.Files = append([]model.Attachment(nil), req.Files...)
	f.requests[req.ID] = &cp
}

func (f *fakeRequestRepo) Create(ctx context.Context, req *model.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Mirrors the uniqueIndex on code
	for _, r := range f.requests {
		if r.Code == req.Code {
			return gorm.ErrDuplicatedKey
		}
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	f.store(req)
	return nil
}

func (f *fakeRequestRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.requests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *stored
	cp.LineItems = append([]model.LineItem(nil), stored.LineItems...)
	cp.CopiedTo = append([]model.User(nil), stored.CopiedTo...)
	cp.Files = append([]model.Attachment(nil), stored.Files...)
	return &cp, nil
}

func (f *fakeRequestRepo) List(ctx context.Context, filter repository.RequestFilter) ([]model.Request, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	var out []model.Request
	for _, r := range f.requests {
		if r.RequestType == filter.RequestType {
			out = append(out, *r)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeRequestRepo) Save(ctx context.Context, req *model.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store(req)
	return nil
}

func (f *fakeRequestRepo) SaveVersioned(ctx context.Context, req *model.Request, expectedVersion int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.requests[req.ID]
	if !ok || stored.Version != expectedVersion {
		return false, nil
	}
	req.Version = expectedVersion + 1
	f.store(req)
	return true, nil
}

func (f *fakeRequestRepo) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.requests, id)
	return nil
}

// NextCode continues from the highest suffix among live rows, matching the
// MAX(SPLIT_PART(...)) query in the real repository.
func (f *fakeRequestRepo) NextCode(ctx context.Context, prefix string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last := 0
	for _, r := range f.requests {
		var n int
		if _, err := fmt.Sscanf(r.Code, prefix+"-%d", &n); err == nil && n > last {
			last = n
		}
	}
	return fmt.Sprintf("%s-%04d", prefix, last+1), nil
}

func (f *fakeRequestRepo) AddCopiedTo(ctx context.Context, req *model.Request, users []model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.requests[req.ID]
	stored.CopiedTo = append(stored.CopiedTo, users...)
	return nil
}

func (f *fakeRequestRepo) ReplaceLineItems(ctx context.Context, req *model.Request, items []model.LineItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stored, ok := f.requests[req.ID]; ok {
		stored.LineItems = append([]model.LineItem(nil), items...)
	}
	return nil
}

func (f *fakeRequestRepo) AddFile(ctx context.Context, file *model.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stored, ok := f.requests[file.RequestID]; ok {
		stored.Files = append(stored.Files, *file)
	}
	return nil
}

func (f *fakeRequestRepo) CountByStatus(ctx context.Context, requestType string) ([]repository.StatusCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]int64{}
	for _, r := range f.requests {
		if r.RequestType == requestType {
			counts[r.Status]++
		}
	}
	var out []repository.StatusCount
	for status, n := range counts {
		out = append(out, repository.StatusCount{Status: status, Count: n})
	}
	return out, nil
}

func (f *fakeRequestRepo) CountAllByStatus(ctx context.Context) ([]repository.StatusCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	type key struct{ t, s string }
	counts := map[key]int64{}
	for _, r := range f.requests {
		counts[key{r.RequestType, r.Status}]++
	}
	var out []repository.StatusCount
	for k, n := range counts {
		out = append(out, repository.StatusCount{RequestType: k.t, Status: k.s, Count: n})
	}
	return out, nil
}

type fakeCommentRepo struct {
	mu       sync.Mutex
	comments map[uuid.UUID]*model.Comment
}

func newFakeCommentRepo() *fakeCommentRepo {
	return &fakeCommentRepo{comments: map[uuid.UUID]*model.Comment{}}
}

func (f *fakeCommentRepo) Create(ctx context.Context, comment *model.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if comment.ID == uuid.Nil {
		comment.ID = uuid.New()
	}
	cp := *comment
	f.comments[comment.ID] = &cp
	return nil
}

func (f *fakeCommentRepo) FindByID(ctx context.Context, requestID, commentID uuid.UUID) (*model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[commentID]
	if !ok || c.RequestID != requestID {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCommentRepo) Update(ctx context.Context, comment *model.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *comment
	f.comments[comment.ID] = &cp
	return nil
}

func (f *fakeCommentRepo) Delete(ctx context.Context, requestID, commentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.comments, commentID)
	return nil
}

type fakeUserRepo struct {
	users map[uuid.UUID]*model.User
}

func newFakeUserRepo(users ...*model.User) *fakeUserRepo {
	f := &fakeUserRepo{users: map[uuid.UUID]*model.User{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUserRepo) Create(ctx context.Context, user *model.User) error { return nil }

func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, gorm.ErrRecordNotFound
	}
	u, ok := f.users[parsed]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeUserRepo) List(ctx context.Context, page, limit int) ([]model.User, int64, error) {
	return nil, 0, nil
}

func (f *fakeUserRepo) Update(ctx context.Context, user *model.User) error { return nil }
func (f *fakeUserRepo) Delete(ctx context.Context, id string) error        { return nil }

func (f *fakeUserRepo) CreateRefreshToken(ctx context.Context, token *model.RefreshToken) error {
	return nil
}

func (f *fakeUserRepo) GetRefreshToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeUserRepo) DeleteRefreshToken(ctx context.Context, token string) error { return nil }

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditLog
}

func (f *fakeAuditRepo) Log(ctx context.Context, entry *model.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAuditRepo) List(ctx context.Context, page, limit int) ([]model.AuditLog, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AuditLog(nil), f.entries...), int64(len(f.entries)), nil
}

func (f *fakeAuditRepo) lastAction() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return ""
	}
	return f.entries[len(f.entries)-1].Action
}

// fakeTxManager runs the function directly; the fakes have no transactions.
type fakeTxManager struct{}

func (fakeTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvents) BroadcastEvent(eventType string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

type fixture struct {
	requests *fakeRequestRepo
	comments *fakeCommentRepo
	users    *fakeUserRepo
	audits   *fakeAuditRepo
	events   *fakeEvents
	service  RequestService
}

func newFixture(users ...*model.User) *fixture {
	f := &fixture{
		requests: newFakeRequestRepo(),
		comments: newFakeCommentRepo(),
		users:    newFakeUserRepo(users...),
		audits:   &fakeAuditRepo{},
		events:   &fakeEvents{},
	}
	f.service = NewRequestService(f.requests, f.comments, f.users, f.audits, fakeTxManager{}, f.events, zerolog.Nop())
	return f
}

var (
	staffActor    = workflow.Actor{ID: uuid.New(), Role: model.RoleStaff}
	reviewerActor = workflow.Actor{ID: uuid.New(), Role: model.RoleReviewer}
	adminActor    = workflow.Actor{ID: uuid.New(), Role: model.RoleAdmin}
)

func validCreateDTO(submit bool) CreateRequestDTO {
	return CreateRequestDTO{
		Title:            "Office chairs",
		Department:       "Operations",
		ExpenseChargedTo: "Project X",
		AccountCode:      "OPX-100",
		LineItems: []LineItemDTO{
			{Description: "chair", UnitCost: decimal.NewFromInt(100), Quantity: 2, Frequency: 1},
			{Description: "mat", UnitCost: decimal.NewFromInt(50), Quantity: 1, Frequency: 3},
		},
		Submit: submit,
	}
}

// --- Tests ---

func TestCreateSubmitted(t *testing.T) {
	f := newFixture()

	req, err := f.service.Create(context.Background(), model.TypePurchaseRequest, staffActor, validCreateDTO(true))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if req.Code != "PCR-0001" {
		t.Errorf("code = %q, want PCR-0001", req.Code)
	}
	if req.Status != model.StatusPending {
		t.Errorf("status = %s, want pending", req.Status)
	}
	if got := req.TotalAmount.String(); got != "350" {
		t.Errorf("total_amount = %s, want 350", got)
	}
	if req.Version != 1 {
		t.Errorf("version = %d, want 1", req.Version)
	}
	if got := f.audits.lastAction(); got != model.ActionSubmitRequest {
		t.Errorf("audit action = %s, want %s", got, model.ActionSubmitRequest)
	}
	if len(f.events.events) != 1 || f.events.events[0] != "request.created" {
		t.Errorf("events = %v, want [request.created]", f.events.events)
	}

	// Codes keep counting per prefix.
	second, err := f.service.Create(context.Background(), model.TypePurchaseRequest, staffActor, validCreateDTO(true))
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if second.Code != "PCR-0002" {
		t.Errorf("second code = %q, want PCR-0002", second.Code)
	}
}

func TestCreateDraftSkipsSubmitValidation(t *testing.T) {
	f := newFixture()

	// A draft needs nothing beyond the title.
	req, err := f.service.Create(context.Background(), model.TypePurchaseRequest, staffActor, CreateRequestDTO{
		Title:  "WIP chairs",
		Submit: false,
	})
	if err != nil {
		t.Fatalf("Create draft: %v", err)
	}
	if req.Status != model.StatusDraft {
		t.Errorf("status = %s, want draft", req.Status)
	}
	if got := f.audits.lastAction(); got != model.ActionCreateRequest {
		t.Errorf("audit action = %s, want %s", got, model.ActionCreateRequest)
	}
}

func TestCreateValidationFailureStoresNothing(t *testing.T) {
	f := newFixture()

	_, err := f.service.Create(context.Background(), model.TypePurchaseRequest, staffActor, CreateRequestDTO{
		Title:  "chairs",
		Submit: true, // missing department, account code, line items
	})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
	if len(f.requests.requests) != 0 {
		t.Errorf("%d requests stored after failed create", len(f.requests.requests))
	}
	if len(f.events.events) != 0 {
		t.Errorf("events published for failed create: %v", f.events.events)
	}
}

func TestCreateUnknownType(t *testing.T) {
	f := newFixture()
	_, err := f.service.Create(context.Background(), "invoice", staffActor, validCreateDTO(true))
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestUpdateStatusBumpsVersion(t *testing.T) {
	f := newFixture()

	created, err := f.service.Create(context.Background(), model.TypePurchaseRequest, staffActor, validCreateDTO(true))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	reviewed, err := f.service.UpdateStatus(context.Background(), model.TypePurchaseRequest, created.ID.String(), reviewerActor, UpdateStatusDTO{
		Status:  model.StatusReviewed,
		Comment: "numbers check out",
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	if reviewed.Status != model.StatusReviewed {
		t.Errorf("status = %s, want reviewed", reviewed.Status)
	}
	if reviewed.Version != 2 {
		t.Errorf("version = %d, want 2", reviewed.Version)
	}
	if reviewed.ReviewedBy == nil || *reviewed.ReviewedBy != reviewerActor.ID {
		t.Errorf("reviewed_by = %v, want reviewer", reviewed.ReviewedBy)
	}
	if got := f.audits.lastAction(); got != model.ActionReviewRequest {
		t.Errorf("audit action = %s, want %s", got, model.ActionReviewRequest)
	}

	// The review comment landed on the thread.
	if len(f.comments.comments) != 1 {
		t.Fatalf("%d comments stored, want 1", len(f.comments.comments))
	}
	for _, c := range f.comments.comments {
		if c.Text != "numbers check out" || c.UserID != reviewerActor.ID {
			t.Errorf("stored comment = %+v", c)
		}
	}
}

func TestUpdateStatusStaleVersionConflicts(t *testing.T) {
	f := newFixture()

	created, err := f.service.Create(context.Background(), model.TypePurchaseRequest, staffActor, validCreateDTO(true))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The creator edits the request, bumping its version to 2.
	if _, err := f.service.Update(context.Background(), model.TypePurchaseRequest, created.ID.String(), staffActor, UpdateRequestDTO{
		Description: "added justification",
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// A reviewer still holding the version-1 snapshot must not win the write.
	stale := 1
	_, err = f.service.UpdateStatus(context.Background(), model.TypePurchaseRequest, created.ID.String(), reviewerActor, UpdateStatusDTO{
		Status:          model.StatusReviewed,
		ExpectedVersion: &stale,
	})
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("stale update error = %v, want conflict", err)
	}

	// With the current version the transition goes through.
	current := 2
	reviewed, err := f.service.UpdateStatus(context.Background(), model.TypePurchaseRequest, created.ID.String(), reviewerActor, UpdateStatusDTO{
		Status:          model.StatusReviewed,
		ExpectedVersion: &current,
	})
	if err != nil {
		t.Fatalf("retry with current version: %v", err)
	}
	if reviewed.Version != 3 {
		t.Errorf("version = %d, want 3", reviewed.Version)
	}
}

func TestUpdateRecomputesTotals(t *testing.T) {
	f := newFixture()

	created, err := f.service.Create(context.Background(), model.TypePurchaseRequest, staffActor, validCreateDTO(true))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	items := []LineItemDTO{
		{Description: "chair", UnitCost: decimal.NewFromInt(100), Quantity: 3, Frequency: 1},
		{Description: "mat", UnitCost: decimal.NewFromInt(50), Quantity: 1, Frequency: 3},
	}
	updated, err := f.service.Update(context.Background(), model.TypePurchaseRequest, created.ID.String(), staffActor, UpdateRequestDTO{
		LineItems: &items,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := updated.TotalAmount.String(); got != "450" {
		t.Errorf("total_amount = %s, want 450", got)
	}
}

func TestShareIsIdempotent(t *testing.T) {
	colleague := &model.User{ID: uuid.New(), Username: "colleague", Role: model.RoleStaff}
	f := newFixture(colleague)

	created, err := f.service.Create(context.Background(), model.TypePurchaseRequest, staffActor, validCreateDTO(true))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 2; i++ {
		shared, shareErr := f.service.Share(context.Background(), model.TypePurchaseRequest, created.ID.String(), staffActor, []string{colleague.ID.String()})
		if shareErr != nil {
			t.Fatalf("Share #%d: %v", i+1, shareErr)
		}
		count := 0
		for _, u := range shared.CopiedTo {
			if u.ID == colleague.ID {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("after share #%d colleague appears %d times, want 1", i+1, count)
		}
	}
}

func TestShareSkipsCreator(t *testing.T) {
	f := newFixture()

	created, err := f.service.Create(context.Background(), model.TypePurchaseRequest, staffActor, validCreateDTO(true))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	shared, err := f.service.Share(context.Background(), model.TypePurchaseRequest, created.ID.String(), staffActor, []string{staffActor.ID.String()})
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	if len(shared.CopiedTo) != 0 {
		t.Errorf("copied_to = %v, want empty when sharing with the creator", shared.CopiedTo)
	}
}

func TestShareRejectsBadInput(t *testing.T) {
	f := newFixture()

	created, err := f.service.Create(context.Background(), model.TypePurchaseRequest, staffActor, validCreateDTO(true))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.service.Share(context.Background(), model.TypePurchaseRequest, created.ID.String(), staffActor, []string{"not-a-uuid"}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("malformed id error = %v, want validation", err)
	}
	if _, err := f.service.Share(context.Background(), model.TypePurchaseRequest, created.ID.String(), staffActor, []string{uuid.NewString()}); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("unknown user error = %v, want not found", err)
	}
}

func TestListScopesStaffToOwnRequests(t *testing.T) {
	f := newFixture()

	if _, _, err := f.service.List(context.Background(), model.TypePurchaseRequest, staffActor, ListRequestsFilter{}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if f.requests.lastFilter.ViewerID == nil || *f.requests.lastFilter.ViewerID != staffActor.ID {
		t.Errorf("staff list filter viewer = %v, want actor id", f.requests.lastFilter.ViewerID)
	}

	if _, _, err := f.service.List(context.Background(), model.TypePurchaseRequest, reviewerActor, ListRequestsFilter{}); err != nil {
		t.Fatalf("List as reviewer: %v", err)
	}
	if f.requests.lastFilter.ViewerID != nil {
		t.Errorf("reviewer list filter viewer = %v, want nil", f.requests.lastFilter.ViewerID)
	}
}

func TestGetHidesCrossVariantIDs(t *testing.T) {
	f := newFixture()

	created, err := f.service.Create(context.Background(), model.TypePurchaseRequest, staffActor, validCreateDTO(true))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The same id requested under a different resource family does not exist.
	_, err = f.service.Get(context.Background(), model.TypeRFQ, created.ID.String(), staffActor)
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("cross-variant get = %v, want not found", err)
	}
}

func TestDeleteDraftOnly(t *testing.T) {
	f := newFixture()

	draft, err := f.service.Create(context.Background(), model.TypePurchaseRequest, staffActor, CreateRequestDTO{Title: "WIP", Submit: false})
	if err != nil {
		t.Fatalf("Create draft: %v", err)
	}
	if err := f.service.Delete(context.Background(), model.TypePurchaseRequest, draft.ID.String(), staffActor); err != nil {
		t.Fatalf("Delete draft: %v", err)
	}
	if len(f.requests.requests) != 0 {
		t.Error("draft still stored after delete")
	}

	submitted, err := f.service.Create(context.Background(), model.TypePurchaseRequest, staffActor, validCreateDTO(true))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.service.Delete(context.Background(), model.TypePurchaseRequest, submitted.ID.String(), staffActor); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("delete submitted = %v, want forbidden", err)
	}
}

func TestCodesNotReusedAfterDelete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	draft, err := f.service.Create(ctx, model.TypePurchaseRequest, staffActor, validCreateDTO(false))
	if err != nil {
		t.Fatalf("Create draft: %v", err)
	}
	submitted, err := f.service.Create(ctx, model.TypePurchaseRequest, staffActor, validCreateDTO(true))
	if err != nil {
		t.Fatalf("Create submitted: %v", err)
	}
	if draft.Code != "PCR-0001" || submitted.Code != "PCR-0002" {
		t.Fatalf("codes = %s, %s", draft.Code, submitted.Code)
	}

	if err := f.service.Delete(ctx, model.TypePurchaseRequest, draft.ID.String(), staffActor); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// The sequence must keep advancing past the surviving PCR-0002
	again, err := f.service.Create(ctx, model.TypePurchaseRequest, staffActor, validCreateDTO(false))
	if err != nil {
		t.Fatalf("Create after delete: %v", err)
	}
	if again.Code != "PCR-0003" {
		t.Errorf("code = %s, want PCR-0003", again.Code)
	}
}

func TestReassignReplacesReviewer(t *testing.T) {
	creator := &model.User{ID: staffActor.ID, Username: "creator", Role: model.RoleStaff}
	substitute := &model.User{ID: uuid.New(), Username: "substitute", Role: model.RoleReviewer}
	clerk := &model.User{ID: uuid.New(), Username: "clerk", Role: model.RoleStaff}
	f := newFixture(creator, substitute, clerk)
	ctx := context.Background()

	created, err := f.service.Create(ctx, model.TypePurchaseRequest, staffActor, validCreateDTO(true))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	reviewed, err := f.service.UpdateStatus(ctx, model.TypePurchaseRequest, created.ID.String(), reviewerActor, UpdateStatusDTO{Status: model.StatusReviewed})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	reassigned, err := f.service.Reassign(ctx, model.TypePurchaseRequest, created.ID.String(), adminActor, ReassignDTO{ReviewerID: substitute.ID.String()})
	if err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if reassigned.ReviewedBy == nil || *reassigned.ReviewedBy != substitute.ID {
		t.Errorf("reviewed_by = %v, want %s", reassigned.ReviewedBy, substitute.ID)
	}
	if reassigned.Version != reviewed.Version+1 {
		t.Errorf("version = %d, want %d", reassigned.Version, reviewed.Version+1)
	}
	if got := f.audits.lastAction(); got != model.ActionReassignRequest {
		t.Errorf("audit action = %s, want %s", got, model.ActionReassignRequest)
	}
}

func TestReassignRestrictedToAdminsAndReviewCapability(t *testing.T) {
	creator := &model.User{ID: staffActor.ID, Username: "creator", Role: model.RoleStaff}
	substitute := &model.User{ID: uuid.New(), Username: "substitute", Role: model.RoleReviewer}
	clerk := &model.User{ID: uuid.New(), Username: "clerk", Role: model.RoleStaff}
	f := newFixture(creator, substitute, clerk)
	ctx := context.Background()

	created, err := f.service.Create(ctx, model.TypePurchaseRequest, staffActor, validCreateDTO(true))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// No reassignment while the request is still pending
	_, err = f.service.Reassign(ctx, model.TypePurchaseRequest, created.ID.String(), adminActor, ReassignDTO{ReviewerID: substitute.ID.String()})
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("reassign pending = %v, want forbidden", err)
	}

	if _, err := f.service.UpdateStatus(ctx, model.TypePurchaseRequest, created.ID.String(), reviewerActor, UpdateStatusDTO{Status: model.StatusReviewed}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	_, err = f.service.Reassign(ctx, model.TypePurchaseRequest, created.ID.String(), reviewerActor, ReassignDTO{ReviewerID: substitute.ID.String()})
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("reassign by reviewer = %v, want forbidden", err)
	}

	_, err = f.service.Reassign(ctx, model.TypePurchaseRequest, created.ID.String(), adminActor, ReassignDTO{ReviewerID: creator.ID.String()})
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("reassign to creator = %v, want forbidden", err)
	}

	_, err = f.service.Reassign(ctx, model.TypePurchaseRequest, created.ID.String(), adminActor, ReassignDTO{ReviewerID: clerk.ID.String()})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("reassign to staff = %v, want validation error", err)
	}
}

func TestDispatchLifecycleOnApprovedRFQ(t *testing.T) {
	f := newFixture()

	rfq, err := f.service.Create(context.Background(), model.TypeRFQ, staffActor, CreateRequestDTO{
		Title: "Vendor quotes",
		LineItems: []LineItemDTO{
			{Description: "printing", UnitCost: decimal.NewFromInt(10), Quantity: 5, Frequency: 1},
		},
		Submit: true,
	})
	if err != nil {
		t.Fatalf("Create RFQ: %v", err)
	}

	if _, err := f.service.UpdateStatus(context.Background(), model.TypeRFQ, rfq.ID.String(), reviewerActor, UpdateStatusDTO{Status: model.StatusReviewed}); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := f.service.UpdateStatus(context.Background(), model.TypeRFQ, rfq.ID.String(), adminActor, UpdateStatusDTO{Status: model.StatusApproved}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	previewed, err := f.service.Dispatch(context.Background(), model.TypeRFQ, rfq.ID.String(), staffActor, model.DispatchPreview)
	if err != nil {
		t.Fatalf("dispatch preview: %v", err)
	}
	if previewed.DispatchStatus != model.DispatchPreview {
		t.Errorf("dispatch_status = %s, want preview", previewed.DispatchStatus)
	}

	sent, err := f.service.Dispatch(context.Background(), model.TypeRFQ, rfq.ID.String(), staffActor, model.DispatchSent)
	if err != nil {
		t.Fatalf("dispatch send: %v", err)
	}
	if sent.DispatchStatus != model.DispatchSent {
		t.Errorf("dispatch_status = %s, want sent", sent.DispatchStatus)
	}
	if got := f.audits.lastAction(); got != model.ActionDispatchRFQ {
		t.Errorf("audit action = %s, want %s", got, model.ActionDispatchRFQ)
	}
}

func TestStatsAggregatesByStatus(t *testing.T) {
	f := newFixture()

	for i := 0; i < 3; i++ {
		if _, err := f.service.Create(context.Background(), model.TypePurchaseRequest, staffActor, validCreateDTO(true)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := f.service.Create(context.Background(), model.TypePurchaseRequest, staffActor, CreateRequestDTO{Title: "WIP", Submit: false}); err != nil {
		t.Fatalf("Create draft: %v", err)
	}

	stats, err := f.service.Stats(context.Background(), model.TypePurchaseRequest)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 4 {
		t.Errorf("total = %d, want 4", stats.Total)
	}
	if stats.ByStatus[model.StatusPending] != 3 {
		t.Errorf("pending = %d, want 3", stats.ByStatus[model.StatusPending])
	}
	if stats.ByStatus[model.StatusDraft] != 1 {
		t.Errorf("draft = %d, want 1", stats.ByStatus[model.StatusDraft])
	}
}
