package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"civicgate/api/internal/auth"
	"civicgate/api/internal/authpw"
	"civicgate/api/internal/booking"
	"civicgate/api/internal/config"
	"civicgate/api/internal/docstore"
	"civicgate/api/internal/email"
	"civicgate/api/internal/export"
	"civicgate/api/internal/ledger"
	"civicgate/api/internal/payments"
	"civicgate/api/internal/rbac"
	"civicgate/api/internal/search"
	"civicgate/api/internal/store"
	"civicgate/api/internal/tax"
	"civicgate/api/internal/util"
	"civicgate/api/internal/workflow"
)

type Session struct {
	Token          string
	RefreshToken   string
	ProfileID      string
	DisplayName    string
	AccountType    string
	MunicipalityID string
	JTI            string
	ExpiresAt      time.Time
}

// serviceFeeBps is the processing fee charged on top of application fees.
const serviceFeeBps = 300

type CreateApplicationInput struct {
	Title           string `json:"title"`
	Details         string `json:"details"`
	MunicipalityID  string `json:"municipalityId"`
	BaseAmountCents int64  `json:"baseAmountCents"`
	// Tax submissions carry a filing instead of a flat fee.
	TaxKind           string `json:"taxKind,omitempty"`
	GrossReceipts     string `json:"grossReceipts,omitempty"`
	DeductionsClaimed string `json:"deductionsClaimed,omitempty"`
}

type UpdateStatusInput struct {
	NewStatus       string `json:"newStatus"`
	Reason          string `json:"reason"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

type AddCommentInput struct {
	Body       string `json:"body"`
	IsInternal bool   `json:"isInternal"`
}

type CreateBookingInput struct {
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
}

type CreatePaymentInput struct {
	Source         string `json:"source"`
	IdempotencyKey string `json:"idempotencyKey"`
	Method         string `json:"method"`
}

type dataStore interface {
	GetProfileByID(context.Context, string) (store.Profile, error)
	GetProfileByEmail(context.Context, string) (store.Profile, error)
	ListReviewers(context.Context, string) ([]store.ReviewerWorkload, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	GetMunicipality(context.Context, string) (store.Municipality, error)
	GetMerchant(context.Context, string) (store.Merchant, error)
	InsertApplication(context.Context, workflow.Kind, store.Application) error
	GetApplication(context.Context, workflow.Kind, string) (store.Application, error)
	ListApplicationsByApplicant(context.Context, workflow.Kind, string) ([]store.Application, error)
	ListApplicationsByMunicipality(context.Context, workflow.Kind, string) ([]store.Application, error)
	ListApplicationsInStatusBefore(context.Context, workflow.Kind, workflow.Status, time.Time) ([]store.Application, error)
	UpdateApplicationStatus(context.Context, workflow.Kind, string, workflow.Status, string, int64) (store.Application, error)
	SetApplicationReviewer(context.Context, workflow.Kind, string, *string) (store.Application, error)
	SummaryCounts(context.Context, string) (int, int, int, error)
	InsertComment(context.Context, workflow.Kind, store.Comment) error
	ListComments(context.Context, workflow.Kind, string, bool) ([]store.Comment, error)
	InsertStatusHistory(context.Context, store.StatusHistoryEntry) error
	ListStatusHistory(context.Context, workflow.Kind, string) ([]store.StatusHistoryEntry, error)
	ListServices(context.Context, string) ([]store.MunicipalService, error)
	GetService(context.Context, string) (store.MunicipalService, error)
	ListBookingsForDay(context.Context, string, string) ([]store.Booking, error)
	InsertBooking(context.Context, store.Booking) error
	InsertPayment(context.Context, store.Payment) error
	GetPayment(context.Context, string) (store.Payment, error)
	GetPaymentByIdempotencyKey(context.Context, string) (store.Payment, error)
	UpdatePaymentState(context.Context, string, string, string, string) error
	InsertApplicationDocument(context.Context, store.ApplicationDocument) error
	ListApplicationDocuments(context.Context, workflow.Kind, string) ([]store.ApplicationDocument, error)
	GetApplicationDocument(context.Context, string) (store.ApplicationDocument, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Redis-backed in production with a
// Postgres fallback.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.Profile, time.Time) error
	LookupRefreshSession(context.Context, string) (store.Profile, error)
	RevokeRefreshSession(context.Context, string) error
}

type ledgerService interface {
	Append(kind, applicationID string, snapshot ledger.Snapshot, author, message string) (store.SnapshotInfo, error)
	History(kind, applicationID string, limit int) ([]store.SnapshotInfo, error)
	GetSnapshot(kind, applicationID, hash string) (ledger.Snapshot, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	ledger   ledgerService
	search   *search.Service
	emailer  *email.Service
	gateway  *payments.Client
	authpw   *authpw.Service
	docs     *docstore.Service
	exporter *export.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, auditLedger *ledger.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		ledger:   auditLedger,
	}
	s.exporter = export.NewService(&exportAdapter{service: s})
	return s
}

// WithSearch attaches the search facade.
func (s *Service) WithSearch(svc *search.Service) *Service {
	s.search = svc
	return s
}

// WithEmail attaches the SMTP notifier.
func (s *Service) WithEmail(svc *email.Service) *Service {
	s.emailer = svc
	return s
}

// WithPaymentGateway attaches the payment gateway client.
func (s *Service) WithPaymentGateway(client *payments.Client) *Service {
	s.gateway = client
	return s
}

// WithDocstore attaches object storage for applicant documents.
func (s *Service) WithDocstore(svc *docstore.Service) *Service {
	s.docs = svc
	return s
}

// WithAuthPassword attaches the email/password auth service.
func (s *Service) WithAuthPassword(svc *authpw.Service) *Service {
	s.authpw = svc
	return s
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.emailer != nil && s.emailer.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(accountType string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(accountType), action)
}

func (s *Service) IsStaff(accountType string) bool {
	return rbac.IsStaff(rbac.Normalize(accountType))
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func (s *Service) CreateSession(ctx context.Context, profileID string) (Session, error) {
	profile, err := s.store.GetProfileByID(ctx, profileID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, profile)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	profile, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, profile)
}

func (s *Service) issueSession(ctx context.Context, profile store.Profile) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  profile.ID,
		Name: profile.DisplayName,
		Role: profile.AccountType,
		Mun:  profile.MunicipalityID,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), profile, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:          token,
		RefreshToken:   refresh,
		ProfileID:      profile.ID,
		DisplayName:    profile.DisplayName,
		AccountType:    profile.AccountType,
		MunicipalityID: profile.MunicipalityID,
		JTI:            jti,
		ExpiresAt:      expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	profile, err := s.store.GetProfileByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:          token,
		ProfileID:      profile.ID,
		DisplayName:    profile.DisplayName,
		AccountType:    profile.AccountType,
		MunicipalityID: profile.MunicipalityID,
		JTI:            claims.JTI,
		ExpiresAt:      time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Applications
// ---------------------------------------------------------------------------

// applicantStatuses are transitions the applicant performs on their own
// record. Everything else is a reviewer action.
var applicantStatuses = map[workflow.Status]bool{
	workflow.StatusSubmitted:   true,
	workflow.StatusWithdrawn:   true,
	workflow.StatusResubmitted: true,
}

func applicationPayload(item store.Application) map[string]any {
	payload := map[string]any{
		"id":               item.ID,
		"kind":             item.Kind,
		"municipalityId":   item.MunicipalityID,
		"applicantId":      item.ApplicantID,
		"status":           item.Status,
		"title":            item.Title,
		"details":          item.Details,
		"baseAmountCents":  item.BaseAmountCents,
		"serviceFeeCents":  item.ServiceFeeCents,
		"totalAmountCents": item.TotalAmountCents,
		"version":          item.Version,
		"createdAt":        item.CreatedAt,
		"updatedAt":        item.UpdatedAt,
	}
	if item.Reason != "" {
		payload["reason"] = item.Reason
	}
	if item.ReviewerID != nil {
		payload["reviewerId"] = *item.ReviewerID
	}
	if item.SubmittedAt != nil {
		payload["submittedAt"] = *item.SubmittedAt
	}
	if item.ApprovedAt != nil {
		payload["approvedAt"] = *item.ApprovedAt
	}
	if item.DeniedAt != nil {
		payload["deniedAt"] = *item.DeniedAt
	}
	if item.IssuedAt != nil {
		payload["issuedAt"] = *item.IssuedAt
	}
	return payload
}

func (s *Service) CreateApplication(ctx context.Context, session Session, kind workflow.Kind, input CreateApplicationInput) (map[string]any, error) {
	if !s.Can(session.AccountType, rbac.ActionSubmit) {
		return nil, forbiddenError("Account type may not submit applications")
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, validationError("title is required", nil)
	}
	municipalityID := strings.TrimSpace(input.MunicipalityID)
	if municipalityID == "" {
		municipalityID = session.MunicipalityID
	}
	if municipalityID == "" {
		return nil, validationError("municipalityId is required", nil)
	}
	if _, err := s.store.GetMunicipality(ctx, municipalityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, validationError("unknown municipality", nil)
		}
		return nil, err
	}

	base := input.BaseAmountCents
	if base < 0 {
		return nil, validationError("baseAmountCents must not be negative", nil)
	}

	if kind == workflow.KindTax {
		filing, err := s.computeTaxFiling(input)
		if err != nil {
			return nil, err
		}
		base = filing.TotalDueCents
	}

	serviceFee := applyBps(base, serviceFeeBps)
	item := store.Application{
		ID:               util.NewID("app"),
		Kind:             string(kind),
		MunicipalityID:   municipalityID,
		ApplicantID:      session.ProfileID,
		Status:           string(workflow.Initial()),
		Title:            strings.TrimSpace(input.Title),
		Details:          input.Details,
		BaseAmountCents:  base,
		ServiceFeeCents:  serviceFee,
		TotalAmountCents: base + serviceFee,
		Version:          1,
	}

	if err := s.store.InsertApplication(ctx, kind, item); err != nil {
		return nil, err
	}

	s.appendLedger(kind, item, session, "Create application")
	s.indexApplication(item)

	created, err := s.store.GetApplication(ctx, kind, item.ID)
	if err != nil {
		return applicationPayload(item), nil
	}
	return applicationPayload(created), nil
}

func (s *Service) computeTaxFiling(input CreateApplicationInput) (tax.Filing, error) {
	taxKind, err := tax.ParseKind(input.TaxKind)
	if err != nil {
		return tax.Filing{}, validationError("unknown tax kind", map[string]any{"taxKind": input.TaxKind})
	}
	gross, err := tax.ParseCents(input.GrossReceipts)
	if err != nil {
		return tax.Filing{}, validationError("invalid grossReceipts amount", nil)
	}
	deductions := int64(0)
	if strings.TrimSpace(input.DeductionsClaimed) != "" {
		deductions, err = tax.ParseCents(input.DeductionsClaimed)
		if err != nil {
			return tax.Filing{}, validationError("invalid deductionsClaimed amount", nil)
		}
	}
	filing, err := tax.Compute(taxKind, gross, deductions)
	if err != nil {
		return tax.Filing{}, validationError(err.Error(), nil)
	}
	return filing, nil
}

func (s *Service) GetApplication(ctx context.Context, session Session, kind workflow.Kind, applicationID string) (map[string]any, error) {
	item, err := s.store.GetApplication(ctx, kind, applicationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkApplicationAccess(session, item); err != nil {
		return nil, err
	}
	return applicationPayload(item), nil
}

func (s *Service) ListApplications(ctx context.Context, session Session, kind workflow.Kind) ([]map[string]any, error) {
	var items []store.Application
	var err error
	if s.IsStaff(session.AccountType) {
		municipalityID := session.MunicipalityID
		if municipalityID == "" {
			return nil, forbiddenError("Staff account has no municipality")
		}
		items, err = s.store.ListApplicationsByMunicipality(ctx, kind, municipalityID)
	} else {
		items, err = s.store.ListApplicationsByApplicant(ctx, kind, session.ProfileID)
	}
	if err != nil {
		return nil, err
	}

	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, applicationPayload(item))
	}
	return payloads, nil
}

// UpdateStatus applies a workflow transition. Validation happens here, in
// the application layer; the database check constraint is only a backstop.
func (s *Service) UpdateStatus(ctx context.Context, session Session, kind workflow.Kind, applicationID string, input UpdateStatusInput) (map[string]any, error) {
	item, err := s.store.GetApplication(ctx, kind, applicationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkApplicationAccess(session, item); err != nil {
		return nil, err
	}

	newStatus := workflow.Status(strings.TrimSpace(input.NewStatus))
	if !workflow.Valid(kind, newStatus) {
		return nil, validationError("unknown status for this application type", map[string]any{"status": string(newStatus)})
	}

	oldStatus := workflow.Status(item.Status)
	if !workflow.CanTransition(kind, oldStatus, newStatus) {
		return nil, validationError("transition not allowed", map[string]any{
			"from":    string(oldStatus),
			"to":      string(newStatus),
			"allowed": workflow.ValidTransitions(kind, oldStatus),
		})
	}

	reason := strings.TrimSpace(input.Reason)
	if workflow.RequiresReason(newStatus) && reason == "" {
		return nil, validationError("reason is required for this transition", map[string]any{"status": string(newStatus)})
	}

	if applicantStatuses[newStatus] {
		if item.ApplicantID != session.ProfileID && !s.IsStaff(session.AccountType) {
			return nil, forbiddenError("Only the applicant may perform this transition")
		}
	} else {
		if !s.Can(session.AccountType, rbac.ActionReview) {
			return nil, forbiddenError("Only reviewers may perform this transition")
		}
	}

	expectedVersion := input.ExpectedVersion
	if expectedVersion == 0 {
		expectedVersion = item.Version
	}

	updated, err := s.store.UpdateApplicationStatus(ctx, kind, applicationID, newStatus, reason, expectedVersion)
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, domainError(http.StatusConflict, "CONFLICT", "Application changed concurrently, reload and retry", map[string]any{"expectedVersion": expectedVersion})
	}
	if store.IsConstraintViolation(err) {
		// The database backstop fired; report it like a validation failure.
		return nil, validationError("transition rejected by storage constraint", map[string]any{
			"from": string(oldStatus),
			"to":   string(newStatus),
		})
	}
	if err != nil {
		return nil, err
	}

	info := s.appendLedger(kind, updated, session, fmt.Sprintf("Transition %s -> %s", oldStatus, newStatus))
	historyEntry := store.StatusHistoryEntry{
		Kind:          string(kind),
		ApplicationID: applicationID,
		OldStatus:     string(oldStatus),
		NewStatus:     string(newStatus),
		ChangedBy:     session.ProfileID,
		Reason:        reason,
		LedgerHash:    info.Hash,
	}
	if err := s.store.InsertStatusHistory(ctx, historyEntry); err != nil {
		log.Printf("status history insert failed for %s: %v", applicationID, err)
	}

	s.indexApplication(updated)
	s.notifyStatusChange(ctx, kind, updated, newStatus, reason)

	return applicationPayload(updated), nil
}

// AssignReviewer sets or replaces the application's reviewer. Assigning the
// same reviewer twice is a no-op.
func (s *Service) AssignReviewer(ctx context.Context, session Session, kind workflow.Kind, applicationID, reviewerID string) (map[string]any, error) {
	if !s.Can(session.AccountType, rbac.ActionReview) {
		return nil, forbiddenError("Only staff may assign reviewers")
	}

	item, err := s.store.GetApplication(ctx, kind, applicationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkApplicationAccess(session, item); err != nil {
		return nil, err
	}
	if workflow.Terminal(kind, workflow.Status(item.Status)) {
		return nil, validationError("cannot assign a reviewer to a closed application", map[string]any{"status": item.Status})
	}

	reviewerID = strings.TrimSpace(reviewerID)
	var reviewerPtr *string
	if reviewerID != "" {
		reviewer, err := s.store.GetProfileByID(ctx, reviewerID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, validationError("unknown reviewer", nil)
			}
			return nil, err
		}
		if !s.IsStaff(reviewer.AccountType) {
			return nil, validationError("reviewer must be a staff account", nil)
		}
		if reviewer.MunicipalityID != item.MunicipalityID {
			return nil, validationError("reviewer belongs to a different municipality", nil)
		}
		reviewerPtr = &reviewerID
	}

	// Idempotent: same assignment returns the record untouched.
	if item.ReviewerID != nil && reviewerPtr != nil && *item.ReviewerID == *reviewerPtr {
		return applicationPayload(item), nil
	}
	if item.ReviewerID == nil && reviewerPtr == nil {
		return applicationPayload(item), nil
	}

	updated, err := s.store.SetApplicationReviewer(ctx, kind, applicationID, reviewerPtr)
	if err != nil {
		return nil, err
	}

	message := "Clear reviewer"
	if reviewerPtr != nil {
		message = "Assign reviewer " + *reviewerPtr
	}
	s.appendLedger(kind, updated, session, message)

	return applicationPayload(updated), nil
}

func (s *Service) ListReviewers(ctx context.Context, session Session) ([]map[string]any, error) {
	if !s.Can(session.AccountType, rbac.ActionReview) {
		return nil, forbiddenError("Forbidden")
	}
	if session.MunicipalityID == "" {
		return nil, forbiddenError("Staff account has no municipality")
	}

	reviewers, err := s.store.ListReviewers(ctx, session.MunicipalityID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(reviewers))
	for _, reviewer := range reviewers {
		items = append(items, map[string]any{
			"id":           reviewer.Profile.ID,
			"displayName":  reviewer.Profile.DisplayName,
			"accountType":  reviewer.Profile.AccountType,
			"assignedOpen": reviewer.AssignedOpen,
		})
	}
	return items, nil
}

func (s *Service) Summary(ctx context.Context, session Session) (map[string]any, error) {
	if !s.IsStaff(session.AccountType) {
		return nil, forbiddenError("Forbidden")
	}
	total, open, approved, err := s.store.SummaryCounts(ctx, session.MunicipalityID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total":       total,
		"openReviews": open,
		"approved":    approved,
	}, nil
}

// ExpireOverdueApplications sweeps information_requested applications whose
// deadline passed and transitions them to expired. Returns the count moved.
func (s *Service) ExpireOverdueApplications(ctx context.Context) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.InfoRequestDeadlineDays)
	expired := 0
	for _, kind := range workflow.Kinds() {
		items, err := s.store.ListApplicationsInStatusBefore(ctx, kind, workflow.StatusInfoRequested, cutoff)
		if err != nil {
			return expired, err
		}
		for _, item := range items {
			updated, err := s.store.UpdateApplicationStatus(ctx, kind, item.ID, workflow.StatusExpired, "information request deadline passed", item.Version)
			if errors.Is(err, store.ErrVersionConflict) {
				// Someone acted on it since we listed; skip.
				continue
			}
			if err != nil {
				return expired, err
			}

			info := s.appendLedger(kind, updated, Session{ProfileID: "system", DisplayName: "System"}, "Transition information_requested -> expired")
			entry := store.StatusHistoryEntry{
				Kind:          string(kind),
				ApplicationID: item.ID,
				OldStatus:     string(workflow.StatusInfoRequested),
				NewStatus:     string(workflow.StatusExpired),
				ChangedBy:     "system",
				Reason:        "information request deadline passed",
				LedgerHash:    info.Hash,
			}
			if err := s.store.InsertStatusHistory(ctx, entry); err != nil {
				log.Printf("status history insert failed for %s: %v", item.ID, err)
			}
			s.indexApplication(updated)
			s.notifyStatusChange(ctx, kind, updated, workflow.StatusExpired, entry.Reason)
			expired++
		}
	}
	return expired, nil
}

func (s *Service) checkApplicationAccess(session Session, item store.Application) error {
	if rbac.Normalize(session.AccountType) == rbac.AccountSuperAdmin {
		return nil
	}
	if s.IsStaff(session.AccountType) {
		if session.MunicipalityID == item.MunicipalityID {
			return nil
		}
		return forbiddenError("Application belongs to a different municipality")
	}
	if item.ApplicantID == session.ProfileID {
		return nil
	}
	return forbiddenError("Forbidden")
}

func (s *Service) appendLedger(kind workflow.Kind, item store.Application, session Session, message string) store.SnapshotInfo {
	if s.ledger == nil {
		return store.SnapshotInfo{}
	}
	snapshot := ledger.Snapshot{
		Kind:      string(kind),
		ID:        item.ID,
		Status:    item.Status,
		Reason:    item.Reason,
		Title:     item.Title,
		Version:   item.Version,
		ChangedBy: session.ProfileID,
	}
	if item.ReviewerID != nil {
		snapshot.ReviewerID = *item.ReviewerID
	}
	author := session.DisplayName
	if author == "" {
		author = "System"
	}
	info, err := s.ledger.Append(string(kind), item.ID, snapshot, author, message)
	if err != nil {
		log.Printf("ledger append failed for %s/%s: %v", kind, item.ID, err)
		return store.SnapshotInfo{}
	}
	return info
}

func (s *Service) indexApplication(item store.Application) {
	if s.search == nil {
		return
	}
	s.search.IndexApplication(search.ApplicationRecord{
		ID:             item.ID,
		Kind:           item.Kind,
		Title:          item.Title,
		Details:        item.Details,
		Status:         item.Status,
		MunicipalityID: item.MunicipalityID,
	})
}

func (s *Service) notifyStatusChange(ctx context.Context, kind workflow.Kind, item store.Application, newStatus workflow.Status, reason string) {
	if s.emailer == nil || !s.emailer.IsConfigured() {
		return
	}
	applicant, err := s.store.GetProfileByID(ctx, item.ApplicantID)
	if err != nil {
		return
	}
	descriptor, err := workflow.Describe(kind)
	if err != nil {
		return
	}
	go func() {
		if err := s.emailer.SendStatusChangeEmail(applicant.Email, applicant.DisplayName, descriptor.Label, item.Title, string(newStatus), reason); err != nil {
			log.Printf("status email to %s failed: %v", applicant.Email, err)
		}
	}()
}

// ---------------------------------------------------------------------------
// Comments
// ---------------------------------------------------------------------------

func (s *Service) AddComment(ctx context.Context, session Session, kind workflow.Kind, applicationID string, input AddCommentInput) (map[string]any, error) {
	if !s.Can(session.AccountType, rbac.ActionComment) {
		return nil, forbiddenError("Forbidden")
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, validationError("body is required", nil)
	}
	if input.IsInternal && !s.Can(session.AccountType, rbac.ActionInternal) {
		return nil, forbiddenError("Internal notes are staff-only")
	}

	item, err := s.store.GetApplication(ctx, kind, applicationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkApplicationAccess(session, item); err != nil {
		return nil, err
	}

	comment := store.Comment{
		ID:            util.NewID("cmt"),
		ApplicationID: applicationID,
		AuthorID:      session.ProfileID,
		AuthorName:    session.DisplayName,
		Text:          body,
		IsInternal:    input.IsInternal,
	}
	if err := s.store.InsertComment(ctx, kind, comment); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:             comment.ID,
			Kind:           string(kind),
			ApplicationID:  applicationID,
			Body:           body,
			MunicipalityID: item.MunicipalityID,
			IsInternal:     comment.IsInternal,
		})
	}

	return commentPayload(comment), nil
}

func (s *Service) ListComments(ctx context.Context, session Session, kind workflow.Kind, applicationID string) ([]map[string]any, error) {
	item, err := s.store.GetApplication(ctx, kind, applicationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkApplicationAccess(session, item); err != nil {
		return nil, err
	}

	includeInternal := s.Can(session.AccountType, rbac.ActionInternal)
	comments, err := s.store.ListComments(ctx, kind, applicationID, includeInternal)
	if err != nil {
		return nil, err
	}

	payloads := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		payloads = append(payloads, commentPayload(comment))
	}
	return payloads, nil
}

func commentPayload(comment store.Comment) map[string]any {
	return map[string]any{
		"id":            comment.ID,
		"applicationId": comment.ApplicationID,
		"authorId":      comment.AuthorID,
		"authorName":    comment.AuthorName,
		"body":          comment.Text,
		"isInternal":    comment.IsInternal,
		"createdAt":     comment.CreatedAt,
	}
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func (s *Service) StatusHistory(ctx context.Context, session Session, kind workflow.Kind, applicationID string) ([]map[string]any, error) {
	item, err := s.store.GetApplication(ctx, kind, applicationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkApplicationAccess(session, item); err != nil {
		return nil, err
	}

	entries, err := s.store.ListStatusHistory(ctx, kind, applicationID)
	if err != nil {
		return nil, err
	}

	payloads := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		payload := map[string]any{
			"oldStatus": entry.OldStatus,
			"newStatus": entry.NewStatus,
			"changedBy": entry.ChangedBy,
			"createdAt": entry.CreatedAt,
		}
		if entry.Reason != "" {
			payload["reason"] = entry.Reason
		}
		if entry.LedgerHash != "" {
			payload["ledgerHash"] = entry.LedgerHash
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

func (s *Service) AuditTrail(ctx context.Context, session Session, kind workflow.Kind, applicationID string) ([]map[string]any, error) {
	if !s.Can(session.AccountType, rbac.ActionReview) {
		return nil, forbiddenError("Forbidden")
	}
	item, err := s.store.GetApplication(ctx, kind, applicationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkApplicationAccess(session, item); err != nil {
		return nil, err
	}
	if s.ledger == nil {
		return []map[string]any{}, nil
	}

	commits, err := s.ledger.History(string(kind), applicationID, 0)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		payloads = append(payloads, map[string]any{
			"hash":      commit.Hash,
			"message":   strings.TrimSpace(commit.Message),
			"author":    commit.Author,
			"createdAt": commit.CreatedAt,
		})
	}
	return payloads, nil
}

// AuditSnapshot resolves one audit-trail commit to the record state it
// captured. The hash is the ledgerHash persisted on status history rows.
func (s *Service) AuditSnapshot(ctx context.Context, session Session, kind workflow.Kind, applicationID, hash string) (map[string]any, error) {
	if !s.Can(session.AccountType, rbac.ActionReview) {
		return nil, forbiddenError("Forbidden")
	}
	item, err := s.store.GetApplication(ctx, kind, applicationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkApplicationAccess(session, item); err != nil {
		return nil, err
	}
	if s.ledger == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Audit entry not found", nil)
	}

	snapshot, err := s.ledger.GetSnapshot(string(kind), applicationID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Audit entry not found", nil)
	}
	payload := map[string]any{
		"hash":      hash,
		"kind":      snapshot.Kind,
		"id":        snapshot.ID,
		"status":    snapshot.Status,
		"title":     snapshot.Title,
		"version":   snapshot.Version,
		"changedBy": snapshot.ChangedBy,
	}
	if snapshot.Reason != "" {
		payload["reason"] = snapshot.Reason
	}
	if snapshot.ReviewerID != "" {
		payload["reviewerId"] = snapshot.ReviewerID
	}
	return payload, nil
}

// ---------------------------------------------------------------------------
// Bookable services
// ---------------------------------------------------------------------------

func (s *Service) ListMunicipalServices(ctx context.Context, session Session) ([]map[string]any, error) {
	municipalityID := session.MunicipalityID
	if municipalityID == "" {
		return nil, validationError("account has no municipality", nil)
	}
	services, err := s.store.ListServices(ctx, municipalityID)
	if err != nil {
		return nil, err
	}

	payloads := make([]map[string]any, 0, len(services))
	for _, svc := range services {
		payloads = append(payloads, map[string]any{
			"id":                  svc.ID,
			"name":                svc.Name,
			"description":         svc.Description,
			"startTime":           svc.StartTime,
			"endTime":             svc.EndTime,
			"slotIntervalMinutes": svc.SlotIntervalMinutes,
			"durationMinutes":     svc.DurationMinutes,
			"bookingMode":         svc.BookingMode,
			"availableDays":       svc.AvailableDays,
			"feeCents":            svc.FeeCents,
		})
	}
	return payloads, nil
}

func serviceDayConfig(svc store.MunicipalService) booking.DayConfig {
	return booking.DayConfig{
		StartTime:           svc.StartTime,
		EndTime:             svc.EndTime,
		SlotIntervalMinutes: svc.SlotIntervalMinutes,
		DurationMinutes:     svc.DurationMinutes,
		Mode:                booking.Mode(svc.BookingMode),
		AvailableDays:       svc.AvailableDays,
	}
}

// ServiceSlots generates the bookable slots for one service on one date,
// marking slots that collide with existing bookings.
func (s *Service) ServiceSlots(ctx context.Context, serviceID, date string) (map[string]any, error) {
	svc, err := s.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, validationError("date must be YYYY-MM-DD", nil)
	}

	cfg := serviceDayConfig(svc)
	if !booking.DayAvailable(cfg, day.Weekday()) {
		return map[string]any{"serviceId": serviceID, "date": date, "slots": []booking.Slot{}}, nil
	}

	existing, err := s.store.ListBookingsForDay(ctx, serviceID, date)
	if err != nil {
		return nil, err
	}
	booked := make([]booking.Interval, 0, len(existing))
	for _, b := range existing {
		interval, err := booking.ParseInterval(b.StartTime, b.EndTime)
		if err != nil {
			continue
		}
		booked = append(booked, interval)
	}

	slots, err := booking.GenerateSlots(cfg, booked)
	if err != nil {
		return nil, validationError(err.Error(), nil)
	}

	return map[string]any{"serviceId": serviceID, "date": date, "slots": slots}, nil
}

func (s *Service) CreateBooking(ctx context.Context, session Session, serviceID string, input CreateBookingInput) (map[string]any, error) {
	svc, err := s.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	day, err := time.Parse("2006-01-02", input.Date)
	if err != nil {
		return nil, validationError("date must be YYYY-MM-DD", nil)
	}

	cfg := serviceDayConfig(svc)
	if !booking.DayAvailable(cfg, day.Weekday()) {
		return nil, validationError("service is not available on that day", map[string]any{"weekday": day.Weekday().String()})
	}

	existing, err := s.store.ListBookingsForDay(ctx, serviceID, input.Date)
	if err != nil {
		return nil, err
	}
	booked := make([]booking.Interval, 0, len(existing))
	for _, b := range existing {
		interval, err := booking.ParseInterval(b.StartTime, b.EndTime)
		if err != nil {
			continue
		}
		booked = append(booked, interval)
	}

	slots, err := booking.GenerateSlots(cfg, booked)
	if err != nil {
		return nil, validationError(err.Error(), nil)
	}

	var chosen *booking.Slot
	for i := range slots {
		if slots[i].Start == input.StartTime {
			chosen = &slots[i]
			break
		}
	}
	if chosen == nil {
		return nil, validationError("no slot starts at that time", map[string]any{"startTime": input.StartTime})
	}
	if chosen.IsBooked {
		return nil, domainError(http.StatusConflict, "SLOT_UNAVAILABLE", "slot is already booked", map[string]any{"startTime": input.StartTime})
	}

	record := store.Booking{
		ID:          util.NewID("bkg"),
		ServiceID:   serviceID,
		ProfileID:   session.ProfileID,
		BookingDate: input.Date,
		StartTime:   chosen.Start,
		EndTime:     chosen.End,
		Status:      "confirmed",
	}
	if err := s.store.InsertBooking(ctx, record); err != nil {
		if store.IsConstraintViolation(err) {
			return nil, domainError(http.StatusConflict, "SLOT_UNAVAILABLE", "slot was booked concurrently", nil)
		}
		return nil, err
	}

	return map[string]any{
		"id":        record.ID,
		"serviceId": record.ServiceID,
		"date":      record.BookingDate,
		"startTime": record.StartTime,
		"endTime":   record.EndTime,
		"status":    record.Status,
	}, nil
}

// ---------------------------------------------------------------------------
// Tax
// ---------------------------------------------------------------------------

func (s *Service) CalculateTax(kindName, gross, deductions string) (map[string]any, error) {
	taxKind, err := tax.ParseKind(kindName)
	if err != nil {
		return nil, validationError("unknown tax kind", map[string]any{"taxKind": kindName})
	}
	grossCents, err := tax.ParseCents(gross)
	if err != nil {
		return nil, validationError("invalid grossReceipts amount", nil)
	}
	deductionCents := int64(0)
	if strings.TrimSpace(deductions) != "" {
		deductionCents, err = tax.ParseCents(deductions)
		if err != nil {
			return nil, validationError("invalid deductionsClaimed amount", nil)
		}
	}

	filing, err := tax.Compute(taxKind, grossCents, deductionCents)
	if err != nil {
		return nil, validationError(err.Error(), nil)
	}

	return map[string]any{
		"taxKind":         string(filing.Kind),
		"grossCents":      filing.GrossCents,
		"deductionCents":  filing.DeductionCents,
		"taxableCents":    filing.TaxableCents,
		"taxCents":        filing.TaxCents,
		"commissionCents": filing.CommissionCents,
		"totalDueCents":   filing.TotalDueCents,
		"gross":           tax.FormatCents(filing.GrossCents),
		"tax":             tax.FormatCents(filing.TaxCents),
		"commission":      tax.FormatCents(filing.CommissionCents),
		"totalDue":        tax.FormatCents(filing.TotalDueCents),
	}, nil
}

// ---------------------------------------------------------------------------
// Payments
// ---------------------------------------------------------------------------

// payableStatuses are the states in which fees may be collected.
var payableStatuses = map[workflow.Status]bool{
	workflow.StatusSubmitted:     true,
	workflow.StatusUnderReview:   true,
	workflow.StatusInfoRequested: true,
	workflow.StatusResubmitted:   true,
	workflow.StatusApproved:      true,
}

func (s *Service) CreatePayment(ctx context.Context, session Session, kind workflow.Kind, applicationID string, input CreatePaymentInput) (map[string]any, error) {
	item, err := s.store.GetApplication(ctx, kind, applicationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkApplicationAccess(session, item); err != nil {
		return nil, err
	}
	if !payableStatuses[workflow.Status(item.Status)] {
		return nil, validationError("application is not in a payable state", map[string]any{"status": item.Status})
	}
	if item.TotalAmountCents <= 0 {
		return nil, validationError("application has no fees due", nil)
	}

	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		return nil, validationError("idempotencyKey is required", nil)
	}

	// Replay: the same key returns the original payment without charging
	// again.
	if existing, err := s.store.GetPaymentByIdempotencyKey(ctx, key); err == nil {
		return paymentPayload(existing), nil
	}

	// Checked before the pending row is written: a payment that never
	// reached the gateway must not claim the idempotency key.
	if s.gateway == nil || !s.gateway.IsConfigured() {
		return nil, domainError(http.StatusServiceUnavailable, "PAYMENTS_UNAVAILABLE", "Payment gateway not configured", nil)
	}

	municipality, err := s.store.GetMunicipality(ctx, item.MunicipalityID)
	if err != nil {
		return nil, err
	}
	if municipality.MerchantID == "" {
		return nil, validationError("municipality does not accept online payments", nil)
	}
	merchant, err := s.store.GetMerchant(ctx, municipality.MerchantID)
	if err != nil {
		return nil, err
	}

	method := input.Method
	if method == "" {
		method = "card"
	}
	payment := store.Payment{
		ID:             util.NewID("pay"),
		Kind:           string(kind),
		ApplicationID:  applicationID,
		PayerID:        session.ProfileID,
		MerchantID:     merchant.ID,
		AmountCents:    item.TotalAmountCents,
		FeeCents:       item.ServiceFeeCents,
		State:          "pending",
		Method:         method,
		IdempotencyKey: key,
	}
	if err := s.store.InsertPayment(ctx, payment); err != nil {
		if store.IsConstraintViolation(err) {
			// Two requests raced on the same key; return the winner.
			if existing, lookupErr := s.store.GetPaymentByIdempotencyKey(ctx, key); lookupErr == nil {
				return paymentPayload(existing), nil
			}
		}
		return nil, err
	}

	transfer, err := s.gateway.CreateTransfer(ctx, payments.TransferRequest{
		AmountCents:    payment.AmountCents,
		Merchant:       merchant.FinixMerchant,
		Source:         input.Source,
		IdempotencyID:  payment.ID,
		StatementDescr: municipality.Name,
	})
	if err != nil {
		failure := err.Error()
		var gatewayErr *payments.GatewayError
		if errors.As(err, &gatewayErr) {
			failure = gatewayErr.Body
		}
		_ = s.store.UpdatePaymentState(ctx, payment.ID, "failed", "", failure)
		return nil, domainError(http.StatusPaymentRequired, "PAYMENT_FAILED", "Payment was declined", map[string]any{"paymentId": payment.ID})
	}

	state := "succeeded"
	if transfer.State == "FAILED" {
		state = "failed"
	}
	if err := s.store.UpdatePaymentState(ctx, payment.ID, state, transfer.ID, transfer.FailureMessage); err != nil {
		return nil, err
	}

	final, err := s.store.GetPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if final.State == "failed" {
		return nil, domainError(http.StatusPaymentRequired, "PAYMENT_FAILED", "Payment was declined", map[string]any{"paymentId": final.ID})
	}
	return paymentPayload(final), nil
}

func (s *Service) GetPayment(ctx context.Context, session Session, paymentID string) (map[string]any, error) {
	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.PayerID != session.ProfileID && !s.IsStaff(session.AccountType) {
		return nil, forbiddenError("Forbidden")
	}
	return paymentPayload(payment), nil
}

func (s *Service) RefundPayment(ctx context.Context, session Session, paymentID string, amountCents int64) (map[string]any, error) {
	if !s.Can(session.AccountType, rbac.ActionAdmin) {
		return nil, forbiddenError("Only administrators may refund payments")
	}

	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.State != "succeeded" {
		return nil, validationError("only succeeded payments can be refunded", map[string]any{"state": payment.State})
	}
	if amountCents <= 0 || amountCents > payment.AmountCents {
		return nil, validationError("invalid refund amount", nil)
	}
	if s.gateway == nil || !s.gateway.IsConfigured() {
		return nil, domainError(http.StatusServiceUnavailable, "PAYMENTS_UNAVAILABLE", "Payment gateway not configured", nil)
	}

	if _, err := s.gateway.ReverseTransfer(ctx, payment.FinixTransfer, amountCents); err != nil {
		return nil, domainError(http.StatusBadGateway, "REFUND_FAILED", "Refund was rejected by the gateway", nil)
	}

	if err := s.store.UpdatePaymentState(ctx, payment.ID, "refunded", "", ""); err != nil {
		return nil, err
	}
	final, err := s.store.GetPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	return paymentPayload(final), nil
}

func paymentPayload(payment store.Payment) map[string]any {
	payload := map[string]any{
		"id":            payment.ID,
		"kind":          payment.Kind,
		"applicationId": payment.ApplicationID,
		"amountCents":   payment.AmountCents,
		"feeCents":      payment.FeeCents,
		"state":         payment.State,
		"method":        payment.Method,
		"createdAt":     payment.CreatedAt,
	}
	if payment.FailureReason != "" {
		payload["failureReason"] = payment.FailureReason
	}
	return payload
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

const maxDocumentBytes = 25 << 20

func (s *Service) UploadDocument(ctx context.Context, session Session, kind workflow.Kind, applicationID, fileName, contentType string, size int64, body io.Reader) (map[string]any, error) {
	if s.docs == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Document storage not configured", nil)
	}
	item, err := s.store.GetApplication(ctx, kind, applicationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkApplicationAccess(session, item); err != nil {
		return nil, err
	}
	if workflow.Terminal(kind, workflow.Status(item.Status)) {
		return nil, validationError("cannot attach documents to a closed application", map[string]any{"status": item.Status})
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, validationError("file name is required", nil)
	}
	if size <= 0 || size > maxDocumentBytes {
		return nil, validationError("document must be between 1 byte and 25 MB", nil)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	doc := store.ApplicationDocument{
		ID:            util.NewID("doc"),
		Kind:          string(kind),
		ApplicationID: applicationID,
		UploadedBy:    session.ProfileID,
		FileName:      fileName,
		ContentType:   contentType,
		SizeBytes:     size,
	}
	doc.ObjectKey = docstore.ObjectKey(string(kind), applicationID, doc.ID)

	if err := s.docs.Put(ctx, doc.ObjectKey, body, size, contentType); err != nil {
		return nil, err
	}
	if err := s.store.InsertApplicationDocument(ctx, doc); err != nil {
		// Roll back the stored object so the bucket does not accumulate
		// orphans.
		_ = s.docs.Remove(ctx, doc.ObjectKey)
		return nil, err
	}

	return documentPayload(doc), nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session, kind workflow.Kind, applicationID string) ([]map[string]any, error) {
	item, err := s.store.GetApplication(ctx, kind, applicationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkApplicationAccess(session, item); err != nil {
		return nil, err
	}

	docs, err := s.store.ListApplicationDocuments(ctx, kind, applicationID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		payloads = append(payloads, documentPayload(doc))
	}
	return payloads, nil
}

// DocumentDownloadURL returns a short-lived presigned link for one document.
func (s *Service) DocumentDownloadURL(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	if s.docs == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Document storage not configured", nil)
	}
	doc, err := s.store.GetApplicationDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	kind, err := workflow.ParseKind(doc.Kind)
	if err != nil {
		return nil, err
	}
	item, err := s.store.GetApplication(ctx, kind, doc.ApplicationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkApplicationAccess(session, item); err != nil {
		return nil, err
	}

	url, err := s.docs.PresignedGetURL(ctx, doc.ObjectKey, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":       doc.ID,
		"fileName": doc.FileName,
		"url":      url,
	}, nil
}

func documentPayload(doc store.ApplicationDocument) map[string]any {
	return map[string]any{
		"id":            doc.ID,
		"applicationId": doc.ApplicationID,
		"fileName":      doc.FileName,
		"contentType":   doc.ContentType,
		"sizeBytes":     doc.SizeBytes,
		"uploadedBy":    doc.UploadedBy,
		"createdAt":     doc.CreatedAt,
	}
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

func (s *Service) Search(session Session, text, filterType, filterKind string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:                 text,
		FilterType:           search.ResultType(filterType),
		FilterKind:           filterKind,
		FilterMunicipalityID: session.MunicipalityID,
		Limit:                limit,
		Offset:               offset,
		IsStaff:              s.IsStaff(session.AccountType),
	}), nil
}

// ---------------------------------------------------------------------------
// Certificates
// ---------------------------------------------------------------------------

func (s *Service) Certificate(ctx context.Context, session Session, kind workflow.Kind, applicationID string) (*export.Result, error) {
	item, err := s.store.GetApplication(ctx, kind, applicationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkApplicationAccess(session, item); err != nil {
		return nil, err
	}

	result, err := s.exporter.Export(ctx, export.Request{Kind: string(kind), ApplicationID: applicationID})
	if errors.Is(err, export.ErrNotIssued) {
		return nil, domainError(http.StatusConflict, "NOT_ISSUED", "Certificates are only available for issued applications", map[string]any{"status": item.Status})
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF rendering is not available", nil)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// exportAdapter feeds the certificate renderer from the service's store.
type exportAdapter struct {
	service *Service
}

func (a *exportAdapter) GetApplicationInfo(ctx context.Context, kindName, applicationID string) (export.ApplicationInfo, error) {
	kind, err := workflow.ParseKind(kindName)
	if err != nil {
		return export.ApplicationInfo{}, err
	}
	descriptor, err := workflow.Describe(kind)
	if err != nil {
		return export.ApplicationInfo{}, err
	}
	item, err := a.service.store.GetApplication(ctx, kind, applicationID)
	if err != nil {
		return export.ApplicationInfo{}, err
	}
	info := export.ApplicationInfo{
		ID:               item.ID,
		KindLabel:        descriptor.Label,
		Title:            item.Title,
		Status:           item.Status,
		MunicipalityID:   item.MunicipalityID,
		ApplicantID:      item.ApplicantID,
		TotalAmountCents: item.TotalAmountCents,
		IssuedAt:         item.IssuedAt,
	}
	if item.ReviewerID != nil {
		info.ReviewerID = *item.ReviewerID
	}
	return info, nil
}

func (a *exportAdapter) GetMunicipalityInfo(ctx context.Context, municipalityID string) (export.MunicipalityInfo, error) {
	municipality, err := a.service.store.GetMunicipality(ctx, municipalityID)
	if err != nil {
		return export.MunicipalityInfo{}, err
	}
	return export.MunicipalityInfo{ID: municipality.ID, Name: municipality.Name}, nil
}

func (a *exportAdapter) GetProfileInfo(ctx context.Context, profileID string) (export.ProfileInfo, error) {
	profile, err := a.service.store.GetProfileByID(ctx, profileID)
	if err != nil {
		return export.ProfileInfo{}, err
	}
	return export.ProfileInfo{ID: profile.ID, DisplayName: profile.DisplayName}, nil
}

// applyBps applies a basis-point rate to an amount in cents, rounding half
// up.
func applyBps(cents int64, bps int64) int64 {
	return (cents*bps + 5000) / 10000
}
