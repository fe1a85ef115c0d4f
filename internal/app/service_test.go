package app

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"civicgate/api/internal/booking"
	"civicgate/api/internal/config"
	"civicgate/api/internal/ledger"
	"civicgate/api/internal/store"
	"civicgate/api/internal/workflow"
)

type fakeStore struct {
	getProfileByIDFn                 func(context.Context, string) (store.Profile, error)
	getMunicipalityFn                func(context.Context, string) (store.Municipality, error)
	getMerchantFn                    func(context.Context, string) (store.Merchant, error)
	insertApplicationFn              func(context.Context, workflow.Kind, store.Application) error
	getApplicationFn                 func(context.Context, workflow.Kind, string) (store.Application, error)
	listApplicationsInStatusBeforeFn func(context.Context, workflow.Kind, workflow.Status, time.Time) ([]store.Application, error)
	updateApplicationStatusFn        func(context.Context, workflow.Kind, string, workflow.Status, string, int64) (store.Application, error)
	setApplicationReviewerFn         func(context.Context, workflow.Kind, string, *string) (store.Application, error)
	insertCommentFn                  func(context.Context, workflow.Kind, store.Comment) error
	listCommentsFn                   func(context.Context, workflow.Kind, string, bool) ([]store.Comment, error)
	insertStatusHistoryFn            func(context.Context, store.StatusHistoryEntry) error
	getServiceFn                     func(context.Context, string) (store.MunicipalService, error)
	listBookingsForDayFn             func(context.Context, string, string) ([]store.Booking, error)
	insertBookingFn                  func(context.Context, store.Booking) error
	insertPaymentFn                  func(context.Context, store.Payment) error
	getPaymentFn                     func(context.Context, string) (store.Payment, error)
	getPaymentByIdempotencyKeyFn     func(context.Context, string) (store.Payment, error)
	listReviewersFn                  func(context.Context, string) ([]store.ReviewerWorkload, error)
}

func (f *fakeStore) GetProfileByID(ctx context.Context, id string) (store.Profile, error) {
	if f.getProfileByIDFn != nil {
		return f.getProfileByIDFn(ctx, id)
	}
	return store.Profile{ID: id, DisplayName: "Test User", AccountType: "resident"}, nil
}
func (f *fakeStore) GetProfileByEmail(context.Context, string) (store.Profile, error) {
	return store.Profile{}, nil
}
func (f *fakeStore) ListReviewers(ctx context.Context, municipalityID string) ([]store.ReviewerWorkload, error) {
	if f.listReviewersFn != nil {
		return f.listReviewersFn(ctx, municipalityID)
	}
	return nil, nil
}
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) {
	return false, nil
}
func (f *fakeStore) GetMunicipality(ctx context.Context, id string) (store.Municipality, error) {
	if f.getMunicipalityFn != nil {
		return f.getMunicipalityFn(ctx, id)
	}
	return store.Municipality{ID: id, Name: "Springfield"}, nil
}
func (f *fakeStore) GetMerchant(ctx context.Context, id string) (store.Merchant, error) {
	if f.getMerchantFn != nil {
		return f.getMerchantFn(ctx, id)
	}
	return store.Merchant{ID: id}, nil
}
func (f *fakeStore) InsertApplication(ctx context.Context, kind workflow.Kind, item store.Application) error {
	if f.insertApplicationFn != nil {
		return f.insertApplicationFn(ctx, kind, item)
	}
	return nil
}
func (f *fakeStore) GetApplication(ctx context.Context, kind workflow.Kind, id string) (store.Application, error) {
	if f.getApplicationFn != nil {
		return f.getApplicationFn(ctx, kind, id)
	}
	return store.Application{ID: id, Kind: string(kind), Status: "draft", Version: 1}, nil
}
func (f *fakeStore) ListApplicationsByApplicant(context.Context, workflow.Kind, string) ([]store.Application, error) {
	return nil, nil
}
func (f *fakeStore) ListApplicationsByMunicipality(context.Context, workflow.Kind, string) ([]store.Application, error) {
	return nil, nil
}
func (f *fakeStore) ListApplicationsInStatusBefore(ctx context.Context, kind workflow.Kind, status workflow.Status, cutoff time.Time) ([]store.Application, error) {
	if f.listApplicationsInStatusBeforeFn != nil {
		return f.listApplicationsInStatusBeforeFn(ctx, kind, status, cutoff)
	}
	return nil, nil
}
func (f *fakeStore) UpdateApplicationStatus(ctx context.Context, kind workflow.Kind, id string, newStatus workflow.Status, reason string, expectedVersion int64) (store.Application, error) {
	if f.updateApplicationStatusFn != nil {
		return f.updateApplicationStatusFn(ctx, kind, id, newStatus, reason, expectedVersion)
	}
	return store.Application{ID: id, Kind: string(kind), Status: string(newStatus), Version: expectedVersion + 1}, nil
}
func (f *fakeStore) SetApplicationReviewer(ctx context.Context, kind workflow.Kind, id string, reviewerID *string) (store.Application, error) {
	if f.setApplicationReviewerFn != nil {
		return f.setApplicationReviewerFn(ctx, kind, id, reviewerID)
	}
	return store.Application{ID: id, Kind: string(kind), ReviewerID: reviewerID}, nil
}
func (f *fakeStore) SummaryCounts(context.Context, string) (int, int, int, error) {
	return 0, 0, 0, nil
}
func (f *fakeStore) InsertComment(ctx context.Context, kind workflow.Kind, comment store.Comment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, kind, comment)
	}
	return nil
}
func (f *fakeStore) ListComments(ctx context.Context, kind workflow.Kind, id string, includeInternal bool) ([]store.Comment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, kind, id, includeInternal)
	}
	return nil, nil
}
func (f *fakeStore) InsertStatusHistory(ctx context.Context, entry store.StatusHistoryEntry) error {
	if f.insertStatusHistoryFn != nil {
		return f.insertStatusHistoryFn(ctx, entry)
	}
	return nil
}
func (f *fakeStore) ListStatusHistory(context.Context, workflow.Kind, string) ([]store.StatusHistoryEntry, error) {
	return nil, nil
}
func (f *fakeStore) ListServices(context.Context, string) ([]store.MunicipalService, error) {
	return nil, nil
}
func (f *fakeStore) GetService(ctx context.Context, id string) (store.MunicipalService, error) {
	if f.getServiceFn != nil {
		return f.getServiceFn(ctx, id)
	}
	return store.MunicipalService{ID: id}, nil
}
func (f *fakeStore) ListBookingsForDay(ctx context.Context, serviceID, date string) ([]store.Booking, error) {
	if f.listBookingsForDayFn != nil {
		return f.listBookingsForDayFn(ctx, serviceID, date)
	}
	return nil, nil
}
func (f *fakeStore) InsertBooking(ctx context.Context, booking store.Booking) error {
	if f.insertBookingFn != nil {
		return f.insertBookingFn(ctx, booking)
	}
	return nil
}
func (f *fakeStore) InsertPayment(ctx context.Context, payment store.Payment) error {
	if f.insertPaymentFn != nil {
		return f.insertPaymentFn(ctx, payment)
	}
	return nil
}
func (f *fakeStore) GetPayment(ctx context.Context, id string) (store.Payment, error) {
	if f.getPaymentFn != nil {
		return f.getPaymentFn(ctx, id)
	}
	return store.Payment{ID: id}, nil
}
func (f *fakeStore) GetPaymentByIdempotencyKey(ctx context.Context, key string) (store.Payment, error) {
	if f.getPaymentByIdempotencyKeyFn != nil {
		return f.getPaymentByIdempotencyKeyFn(ctx, key)
	}
	return store.Payment{}, errors.New("no rows")
}
func (f *fakeStore) UpdatePaymentState(context.Context, string, string, string, string) error {
	return nil
}
func (f *fakeStore) InsertApplicationDocument(context.Context, store.ApplicationDocument) error {
	return nil
}
func (f *fakeStore) ListApplicationDocuments(context.Context, workflow.Kind, string) ([]store.ApplicationDocument, error) {
	return nil, nil
}
func (f *fakeStore) GetApplicationDocument(context.Context, string) (store.ApplicationDocument, error) {
	return store.ApplicationDocument{}, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeSessions struct{}

func (f *fakeSessions) SaveRefreshSession(context.Context, string, store.Profile, time.Time) error {
	return nil
}
func (f *fakeSessions) LookupRefreshSession(context.Context, string) (store.Profile, error) {
	return store.Profile{}, errors.New("no session")
}
func (f *fakeSessions) RevokeRefreshSession(context.Context, string) error { return nil }

type fakeLedger struct {
	appendFn      func(kind, applicationID string, snapshot ledger.Snapshot, author, message string) (store.SnapshotInfo, error)
	getSnapshotFn func(kind, applicationID, hash string) (ledger.Snapshot, error)
}

func (f *fakeLedger) Append(kind, applicationID string, snapshot ledger.Snapshot, author, message string) (store.SnapshotInfo, error) {
	if f.appendFn != nil {
		return f.appendFn(kind, applicationID, snapshot, author, message)
	}
	return store.SnapshotInfo{Hash: "abc1234"}, nil
}
func (f *fakeLedger) History(string, string, int) ([]store.SnapshotInfo, error) {
	return nil, nil
}
func (f *fakeLedger) GetSnapshot(kind, applicationID, hash string) (ledger.Snapshot, error) {
	if f.getSnapshotFn != nil {
		return f.getSnapshotFn(kind, applicationID, hash)
	}
	return ledger.Snapshot{}, errors.New("unknown hash")
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg:      config.Config{JWTSecret: "test-secret", AccessTTL: 15 * time.Minute, RefreshTTL: time.Hour, InfoRequestDeadlineDays: 30},
		store:    fs,
		sessions: &fakeSessions{},
		ledger:   &fakeLedger{},
	}
}

func residentSession(profileID string) Session {
	return Session{ProfileID: profileID, DisplayName: "Resident", AccountType: "resident", MunicipalityID: "muni_1"}
}

func staffSession(profileID string) Session {
	return Session{ProfileID: profileID, DisplayName: "Clerk", AccountType: "municipal", MunicipalityID: "muni_1"}
}

func draftApplication(id, applicantID string) store.Application {
	return store.Application{
		ID:             id,
		Kind:           "permit",
		MunicipalityID: "muni_1",
		ApplicantID:    applicantID,
		Status:         "draft",
		Title:          "Deck addition",
		Version:        1,
	}
}

func assertDomainError(t *testing.T, err error, wantStatus int, wantCode string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != wantStatus || domainErr.Code != wantCode {
		t.Fatalf("expected %d %s, got %d %s", wantStatus, wantCode, domainErr.Status, domainErr.Code)
	}
	return domainErr
}

func TestUpdateStatusSubmitsDraft(t *testing.T) {
	var historyEntry store.StatusHistoryEntry
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			return draftApplication(id, "prof_1"), nil
		},
		updateApplicationStatusFn: func(_ context.Context, kind workflow.Kind, id string, newStatus workflow.Status, reason string, expectedVersion int64) (store.Application, error) {
			if newStatus != workflow.StatusSubmitted {
				t.Fatalf("expected transition to submitted, got %s", newStatus)
			}
			if expectedVersion != 1 {
				t.Fatalf("expected CAS against version 1, got %d", expectedVersion)
			}
			item := draftApplication(id, "prof_1")
			item.Status = string(newStatus)
			item.Version = 2
			return item, nil
		},
		insertStatusHistoryFn: func(_ context.Context, entry store.StatusHistoryEntry) error {
			historyEntry = entry
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.UpdateStatus(context.Background(), residentSession("prof_1"), workflow.KindPermit, "app_1", UpdateStatusInput{NewStatus: "submitted"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if payload["status"] != "submitted" {
		t.Fatalf("expected submitted payload, got %v", payload["status"])
	}
	if payload["version"] != int64(2) {
		t.Fatalf("expected version 2, got %v", payload["version"])
	}
	if historyEntry.OldStatus != "draft" || historyEntry.NewStatus != "submitted" {
		t.Fatalf("unexpected history entry %+v", historyEntry)
	}
	if historyEntry.LedgerHash != "abc1234" {
		t.Fatalf("expected ledger hash recorded in history, got %q", historyEntry.LedgerHash)
	}
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			return draftApplication(id, "prof_1"), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateStatus(context.Background(), staffSession("prof_2"), workflow.KindPermit, "app_1", UpdateStatusInput{NewStatus: "approved"})
	domainErr := assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	details, ok := domainErr.Details.(map[string]any)
	if !ok {
		t.Fatalf("expected transition details, got %v", domainErr.Details)
	}
	if details["from"] != "draft" || details["to"] != "approved" {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestUpdateStatusRejectsIssuedForTaxSubmissions(t *testing.T) {
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			item := draftApplication(id, "prof_1")
			item.Kind = "tax"
			item.Status = "approved"
			return item, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateStatus(context.Background(), staffSession("prof_2"), workflow.KindTax, "app_1", UpdateStatusInput{NewStatus: "issued"})
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestUpdateStatusRequiresReasonForDenial(t *testing.T) {
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			item := draftApplication(id, "prof_1")
			item.Status = "under_review"
			return item, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateStatus(context.Background(), staffSession("prof_2"), workflow.KindPermit, "app_1", UpdateStatusInput{NewStatus: "denied"})
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestUpdateStatusMapsVersionConflict(t *testing.T) {
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			return draftApplication(id, "prof_1"), nil
		},
		updateApplicationStatusFn: func(context.Context, workflow.Kind, string, workflow.Status, string, int64) (store.Application, error) {
			return store.Application{}, store.ErrVersionConflict
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateStatus(context.Background(), residentSession("prof_1"), workflow.KindPermit, "app_1", UpdateStatusInput{NewStatus: "submitted"})
	assertDomainError(t, err, http.StatusConflict, "CONFLICT")
}

func TestUpdateStatusForbidsReviewerActionsForApplicants(t *testing.T) {
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			item := draftApplication(id, "prof_1")
			item.Status = "submitted"
			return item, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateStatus(context.Background(), residentSession("prof_1"), workflow.KindPermit, "app_1", UpdateStatusInput{NewStatus: "under_review"})
	assertDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestAssignReviewerIsIdempotent(t *testing.T) {
	reviewerID := "prof_rev"
	setCalls := 0
	fs := &fakeStore{
		getProfileByIDFn: func(_ context.Context, id string) (store.Profile, error) {
			return store.Profile{ID: id, AccountType: "municipal", MunicipalityID: "muni_1"}, nil
		},
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			item := draftApplication(id, "prof_1")
			item.Status = "submitted"
			item.ReviewerID = &reviewerID
			return item, nil
		},
		setApplicationReviewerFn: func(_ context.Context, _ workflow.Kind, id string, ptr *string) (store.Application, error) {
			setCalls++
			item := draftApplication(id, "prof_1")
			item.ReviewerID = ptr
			return item, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.AssignReviewer(context.Background(), staffSession("prof_2"), workflow.KindPermit, "app_1", reviewerID)
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if setCalls != 0 {
		t.Fatalf("expected no store write for repeated assignment, got %d", setCalls)
	}
	if payload["reviewerId"] != reviewerID {
		t.Fatalf("expected reviewer %s, got %v", reviewerID, payload["reviewerId"])
	}
}

func TestAssignReviewerRejectsOtherMunicipality(t *testing.T) {
	fs := &fakeStore{
		getProfileByIDFn: func(_ context.Context, id string) (store.Profile, error) {
			return store.Profile{ID: id, AccountType: "municipal", MunicipalityID: "muni_other"}, nil
		},
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			item := draftApplication(id, "prof_1")
			item.Status = "submitted"
			return item, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AssignReviewer(context.Background(), staffSession("prof_2"), workflow.KindPermit, "app_1", "prof_rev")
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestAddCommentInternalRequiresStaff(t *testing.T) {
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			return draftApplication(id, "prof_1"), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AddComment(context.Background(), residentSession("prof_1"), workflow.KindPermit, "app_1", AddCommentInput{Body: "note", IsInternal: true})
	assertDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestListCommentsHidesInternalFromApplicants(t *testing.T) {
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			return draftApplication(id, "prof_1"), nil
		},
		listCommentsFn: func(_ context.Context, _ workflow.Kind, _ string, includeInternal bool) ([]store.Comment, error) {
			if includeInternal {
				t.Fatal("applicant listing must not request internal comments")
			}
			return []store.Comment{{ID: "cmt_1", Text: "public"}}, nil
		},
	}
	svc := newTestService(fs)

	comments, err := svc.ListComments(context.Background(), residentSession("prof_1"), workflow.KindPermit, "app_1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(comments) != 1 || comments[0]["body"] != "public" {
		t.Fatalf("unexpected comments %v", comments)
	}
}

func TestListCommentsIncludesInternalForStaff(t *testing.T) {
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			return draftApplication(id, "prof_1"), nil
		},
		listCommentsFn: func(_ context.Context, _ workflow.Kind, _ string, includeInternal bool) ([]store.Comment, error) {
			if !includeInternal {
				t.Fatal("staff listing must request internal comments")
			}
			return nil, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.ListComments(context.Background(), staffSession("prof_2"), workflow.KindPermit, "app_1"); err != nil {
		t.Fatalf("list failed: %v", err)
	}
}

func TestCreateApplicationTaxComputesTotals(t *testing.T) {
	var inserted store.Application
	fs := &fakeStore{
		insertApplicationFn: func(_ context.Context, _ workflow.Kind, item store.Application) error {
			inserted = item
			return nil
		},
		getApplicationFn: func(_ context.Context, _ workflow.Kind, _ string) (store.Application, error) {
			return inserted, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateApplication(context.Background(), residentSession("prof_1"), workflow.KindTax, CreateApplicationInput{
		Title:          "Q3 amusement tax",
		MunicipalityID: "muni_1",
		TaxKind:        "amusement",
		GrossReceipts:  "1000.00",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// 5% tax of 1000.00 is 50.00; a 1% commission of 0.50 leaves 49.50 due.
	if inserted.BaseAmountCents != 4950 {
		t.Fatalf("expected base 4950 cents, got %d", inserted.BaseAmountCents)
	}
	if inserted.TotalAmountCents != inserted.BaseAmountCents+inserted.ServiceFeeCents {
		t.Fatalf("total %d does not equal base %d plus fee %d", inserted.TotalAmountCents, inserted.BaseAmountCents, inserted.ServiceFeeCents)
	}
	if inserted.Status != "draft" || inserted.Version != 1 {
		t.Fatalf("expected new draft at version 1, got %s v%d", inserted.Status, inserted.Version)
	}
}

func TestCalculateTax(t *testing.T) {
	svc := newTestService(&fakeStore{})

	cases := []struct {
		kind           string
		wantTax        string
		wantCommission string
		wantDue        string
	}{
		{"amusement", "50.00", "0.50", "49.50"},
		{"food-beverage", "20.00", "0.20", "19.80"},
	}
	for _, tc := range cases {
		payload, err := svc.CalculateTax(tc.kind, "1000.00", "")
		if err != nil {
			t.Fatalf("%s: calculate failed: %v", tc.kind, err)
		}
		if payload["tax"] != tc.wantTax || payload["commission"] != tc.wantCommission || payload["totalDue"] != tc.wantDue {
			t.Fatalf("%s: got tax=%v commission=%v due=%v", tc.kind, payload["tax"], payload["commission"], payload["totalDue"])
		}
	}

	if _, err := svc.CalculateTax("parking", "1000.00", ""); err == nil {
		t.Fatal("expected unknown tax kind to fail")
	}
}

func testBookableService(id string) store.MunicipalService {
	return store.MunicipalService{
		ID:                  id,
		MunicipalityID:      "muni_1",
		Name:                "Building inspection",
		StartTime:           "09:00",
		EndTime:             "17:00",
		SlotIntervalMinutes: 60,
		DurationMinutes:     60,
		BookingMode:         "time_period",
	}
}

func TestServiceSlotsGeneratesFullDay(t *testing.T) {
	fs := &fakeStore{
		getServiceFn: func(_ context.Context, id string) (store.MunicipalService, error) {
			return testBookableService(id), nil
		},
	}
	svc := newTestService(fs)

	// 2026-09-07 is a Monday.
	payload, err := svc.ServiceSlots(context.Background(), "svc_1", "2026-09-07")
	if err != nil {
		t.Fatalf("slots failed: %v", err)
	}
	slots, ok := payload["slots"].([]booking.Slot)
	if !ok {
		t.Fatalf("unexpected slots payload %T", payload["slots"])
	}
	if len(slots) != 8 {
		t.Fatalf("expected 8 hourly slots for a 09:00-17:00 day, got %d", len(slots))
	}
	if slots[0].Start != "09:00" || slots[7].Start != "16:00" || slots[7].End != "17:00" {
		t.Fatalf("unexpected slot bounds %v ... %v", slots[0], slots[7])
	}
	for _, slot := range slots {
		if slot.IsBooked {
			t.Fatalf("expected empty day, slot %s marked booked", slot.Start)
		}
	}
}

func TestServiceSlotsMarksOverlaps(t *testing.T) {
	fs := &fakeStore{
		getServiceFn: func(_ context.Context, id string) (store.MunicipalService, error) {
			return testBookableService(id), nil
		},
		listBookingsForDayFn: func(context.Context, string, string) ([]store.Booking, error) {
			return []store.Booking{{StartTime: "10:30", EndTime: "11:30"}}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ServiceSlots(context.Background(), "svc_1", "2026-09-07")
	if err != nil {
		t.Fatalf("slots failed: %v", err)
	}
	booked := map[string]bool{}
	for _, slot := range payload["slots"].([]booking.Slot) {
		booked[slot.Start] = slot.IsBooked
	}
	// A 10:30-11:30 booking overlaps both the 10:00 and 11:00 hour slots.
	if !booked["10:00"] || !booked["11:00"] {
		t.Fatalf("expected 10:00 and 11:00 blocked, got %v", booked)
	}
	if booked["09:00"] || booked["12:00"] {
		t.Fatalf("expected neighbouring slots free, got %v", booked)
	}
}

func TestCreateBookingRejectsOverlap(t *testing.T) {
	fs := &fakeStore{
		getServiceFn: func(_ context.Context, id string) (store.MunicipalService, error) {
			return testBookableService(id), nil
		},
		listBookingsForDayFn: func(context.Context, string, string) ([]store.Booking, error) {
			return []store.Booking{{StartTime: "10:30", EndTime: "11:30"}}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateBooking(context.Background(), residentSession("prof_1"), "svc_1", CreateBookingInput{Date: "2026-09-07", StartTime: "10:00"})
	assertDomainError(t, err, http.StatusConflict, "SLOT_UNAVAILABLE")
}

func TestCreateBookingAcceptsFreeSlot(t *testing.T) {
	var inserted store.Booking
	fs := &fakeStore{
		getServiceFn: func(_ context.Context, id string) (store.MunicipalService, error) {
			return testBookableService(id), nil
		},
		listBookingsForDayFn: func(context.Context, string, string) ([]store.Booking, error) {
			return []store.Booking{{StartTime: "10:30", EndTime: "11:30"}}, nil
		},
		insertBookingFn: func(_ context.Context, booking store.Booking) error {
			inserted = booking
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.CreateBooking(context.Background(), residentSession("prof_1"), "svc_1", CreateBookingInput{Date: "2026-09-07", StartTime: "13:00"})
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	if inserted.StartTime != "13:00" || inserted.EndTime != "14:00" {
		t.Fatalf("unexpected interval %s-%s", inserted.StartTime, inserted.EndTime)
	}
	if payload["status"] != "confirmed" {
		t.Fatalf("expected confirmed booking, got %v", payload["status"])
	}
}

func TestCreateBookingRejectsUnavailableDay(t *testing.T) {
	fs := &fakeStore{
		getServiceFn: func(_ context.Context, id string) (store.MunicipalService, error) {
			item := testBookableService(id)
			item.AvailableDays = []string{"Tuesday", "Thursday"}
			return item, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateBooking(context.Background(), residentSession("prof_1"), "svc_1", CreateBookingInput{Date: "2026-09-07", StartTime: "09:00"})
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestCreatePaymentReplaysIdempotencyKey(t *testing.T) {
	inserts := 0
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			item := draftApplication(id, "prof_1")
			item.Status = "approved"
			item.TotalAmountCents = 10300
			return item, nil
		},
		getPaymentByIdempotencyKeyFn: func(_ context.Context, key string) (store.Payment, error) {
			return store.Payment{ID: "pay_existing", IdempotencyKey: key, State: "succeeded", AmountCents: 10300}, nil
		},
		insertPaymentFn: func(context.Context, store.Payment) error {
			inserts++
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.CreatePayment(context.Background(), residentSession("prof_1"), workflow.KindPermit, "app_1", CreatePaymentInput{IdempotencyKey: "idem-1", Source: "tok_visa"})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if payload["id"] != "pay_existing" {
		t.Fatalf("expected existing payment replayed, got %v", payload["id"])
	}
	if inserts != 0 {
		t.Fatalf("expected no new payment rows, got %d", inserts)
	}
}

func TestCreatePaymentWithoutGatewayLeavesNoPendingRow(t *testing.T) {
	byKey := map[string]store.Payment{}
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			item := draftApplication(id, "prof_1")
			item.Status = "approved"
			item.TotalAmountCents = 10300
			return item, nil
		},
		getPaymentByIdempotencyKeyFn: func(_ context.Context, key string) (store.Payment, error) {
			payment, ok := byKey[key]
			if !ok {
				return store.Payment{}, errors.New("no rows")
			}
			return payment, nil
		},
		insertPaymentFn: func(_ context.Context, payment store.Payment) error {
			byKey[payment.IdempotencyKey] = payment
			return nil
		},
	}
	svc := newTestService(fs)
	input := CreatePaymentInput{IdempotencyKey: "idem-1", Source: "tok_visa"}

	_, err := svc.CreatePayment(context.Background(), residentSession("prof_1"), workflow.KindPermit, "app_1", input)
	assertDomainError(t, err, http.StatusServiceUnavailable, "PAYMENTS_UNAVAILABLE")

	// A retry with the same key must fail the same way, not replay a
	// payment that never reached the gateway.
	_, err = svc.CreatePayment(context.Background(), residentSession("prof_1"), workflow.KindPermit, "app_1", input)
	assertDomainError(t, err, http.StatusServiceUnavailable, "PAYMENTS_UNAVAILABLE")

	if len(byKey) != 0 {
		t.Fatalf("expected no payment rows without a gateway, got %d", len(byKey))
	}
}

func TestCreatePaymentRejectsDrafts(t *testing.T) {
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			item := draftApplication(id, "prof_1")
			item.TotalAmountCents = 10300
			return item, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreatePayment(context.Background(), residentSession("prof_1"), workflow.KindPermit, "app_1", CreatePaymentInput{IdempotencyKey: "idem-1"})
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestExpireOverdueApplications(t *testing.T) {
	var expiredIDs []string
	fs := &fakeStore{
		listApplicationsInStatusBeforeFn: func(_ context.Context, kind workflow.Kind, status workflow.Status, _ time.Time) ([]store.Application, error) {
			if status != workflow.StatusInfoRequested {
				t.Fatalf("expected sweep over information_requested, got %s", status)
			}
			if kind != workflow.KindPermit {
				return nil, nil
			}
			item := draftApplication("app_old", "prof_1")
			item.Status = string(workflow.StatusInfoRequested)
			item.Version = 3
			return []store.Application{item}, nil
		},
		updateApplicationStatusFn: func(_ context.Context, _ workflow.Kind, id string, newStatus workflow.Status, _ string, expectedVersion int64) (store.Application, error) {
			if newStatus != workflow.StatusExpired {
				t.Fatalf("expected transition to expired, got %s", newStatus)
			}
			if expectedVersion != 3 {
				t.Fatalf("expected CAS against version 3, got %d", expectedVersion)
			}
			expiredIDs = append(expiredIDs, id)
			return store.Application{ID: id, Kind: "permit", Status: string(newStatus), Version: 4}, nil
		},
	}
	svc := newTestService(fs)

	count, err := svc.ExpireOverdueApplications(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if count != 1 || len(expiredIDs) != 1 || expiredIDs[0] != "app_old" {
		t.Fatalf("expected one expiry for app_old, got count=%d ids=%v", count, expiredIDs)
	}
}

func TestExpireOverdueSkipsConcurrentlyChangedRecords(t *testing.T) {
	fs := &fakeStore{
		listApplicationsInStatusBeforeFn: func(_ context.Context, kind workflow.Kind, _ workflow.Status, _ time.Time) ([]store.Application, error) {
			if kind != workflow.KindPermit {
				return nil, nil
			}
			item := draftApplication("app_old", "prof_1")
			item.Status = string(workflow.StatusInfoRequested)
			return []store.Application{item}, nil
		},
		updateApplicationStatusFn: func(context.Context, workflow.Kind, string, workflow.Status, string, int64) (store.Application, error) {
			return store.Application{}, store.ErrVersionConflict
		},
	}
	svc := newTestService(fs)

	count, err := svc.ExpireOverdueApplications(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected conflicted record skipped, got count=%d", count)
	}
}

func TestAuditSnapshotResolvesLedgerHash(t *testing.T) {
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			item := draftApplication(id, "prof_1")
			item.Status = "submitted"
			return item, nil
		},
	}
	svc := newTestService(fs)
	svc.ledger = &fakeLedger{
		getSnapshotFn: func(kind, applicationID, hash string) (ledger.Snapshot, error) {
			if kind != "permit" || applicationID != "app_1" || hash != "abc1234" {
				t.Fatalf("unexpected lookup %s/%s@%s", kind, applicationID, hash)
			}
			return ledger.Snapshot{
				Kind:      "permit",
				ID:        "app_1",
				Status:    "submitted",
				Title:     "Deck addition",
				Version:   2,
				ChangedBy: "prof_1",
			}, nil
		},
	}

	payload, err := svc.AuditSnapshot(context.Background(), staffSession("prof_2"), workflow.KindPermit, "app_1", "abc1234")
	if err != nil {
		t.Fatalf("AuditSnapshot failed: %v", err)
	}
	if payload["hash"] != "abc1234" || payload["status"] != "submitted" || payload["version"] != int64(2) {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestAuditSnapshotRequiresReviewer(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.AuditSnapshot(context.Background(), residentSession("prof_1"), workflow.KindPermit, "app_1", "abc1234")
	assertDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestAuditSnapshotUnknownHashIsNotFound(t *testing.T) {
	fs := &fakeStore{
		getApplicationFn: func(_ context.Context, _ workflow.Kind, id string) (store.Application, error) {
			return draftApplication(id, "prof_1"), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AuditSnapshot(context.Background(), staffSession("prof_2"), workflow.KindPermit, "app_1", "ffffff0")
	assertDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}
