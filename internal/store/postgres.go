package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"civicgate/api/internal/workflow"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrVersionConflict is returned when a compare-and-swap status update loses
// to a concurrent writer. Callers surface it distinctly from validation
// failures.
var ErrVersionConflict = errors.New("application version conflict")

// IsConstraintViolation reports whether the error is a Postgres integrity
// constraint violation (SQLSTATE class 23). This is the defensive fallback
// behind the workflow engine's own transition validation.
func IsConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func tableFor(kind workflow.Kind) (string, error) {
	descriptor, err := workflow.Describe(kind)
	if err != nil {
		return "", err
	}
	return descriptor.Table, nil
}

func commentsTableFor(kind workflow.Kind) (string, error) {
	descriptor, err := workflow.Describe(kind)
	if err != nil {
		return "", err
	}
	return descriptor.CommentsTable, nil
}

// ---------------------------------------------------------------------------
// Profiles
// ---------------------------------------------------------------------------

const profileColumns = `id, display_name, email, password_hash, account_type, COALESCE(municipality_id, ''), is_email_verified, COALESCE(verification_token, ''), verification_expires_at, deactivated_at, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (Profile, error) {
	var item Profile
	err := row.Scan(
		&item.ID,
		&item.DisplayName,
		&item.Email,
		&item.PasswordHash,
		&item.AccountType,
		&item.MunicipalityID,
		&item.IsEmailVerified,
		&item.VerificationToken,
		&item.VerificationExpiresAt,
		&item.DeactivatedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) GetProfileByID(ctx context.Context, profileID string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=$1`, profileID)
	return scanProfile(row)
}

func (s *PostgresStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE LOWER(email)=LOWER($1)`, email)
	return scanProfile(row)
}

func (s *PostgresStore) CreateProfile(ctx context.Context, profile Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, display_name, email, password_hash, account_type, municipality_id, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''))
	`, profile.ID, profile.DisplayName, profile.Email, profile.PasswordHash, profile.AccountType, profile.MunicipalityID, profile.IsEmailVerified, profile.VerificationToken)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProfileVerificationToken(ctx context.Context, profileID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, profileID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyProfileEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateProfilePassword(ctx context.Context, profileID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE profiles SET password_hash=$2, updated_at=NOW() WHERE id=$1`, profileID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, profileID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, profile_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, profileID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var profileID string
	err := s.db.QueryRowContext(ctx, `
		SELECT profile_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&profileID)
	if err != nil {
		return "", err
	}
	return profileID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ListReviewers returns the municipality's staff with their open assigned
// application counts across all four application tables.
func (s *PostgresStore) ListReviewers(ctx context.Context, municipalityID string) ([]ReviewerWorkload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+profileColumns+`,
			(SELECT COUNT(*) FROM permit_applications a WHERE a.reviewer_id=profiles.id AND a.status IN ('submitted', 'under_review', 'information_requested', 'resubmitted'))
			+ (SELECT COUNT(*) FROM business_license_applications a WHERE a.reviewer_id=profiles.id AND a.status IN ('submitted', 'under_review', 'information_requested', 'resubmitted'))
			+ (SELECT COUNT(*) FROM tax_submissions a WHERE a.reviewer_id=profiles.id AND a.status IN ('submitted', 'under_review', 'information_requested', 'resubmitted'))
			+ (SELECT COUNT(*) FROM municipal_service_applications a WHERE a.reviewer_id=profiles.id AND a.status IN ('submitted', 'under_review', 'information_requested', 'resubmitted'))
			AS assigned_open
		FROM profiles
		WHERE municipality_id=$1
		  AND account_type IN ('municipal', 'municipaladmin', 'municipaluser')
		  AND deactivated_at IS NULL
		ORDER BY display_name ASC
	`, municipalityID)
	if err != nil {
		return nil, fmt.Errorf("list reviewers: %w", err)
	}
	defer rows.Close()

	items := make([]ReviewerWorkload, 0)
	for rows.Next() {
		var item ReviewerWorkload
		if err := rows.Scan(
			&item.Profile.ID,
			&item.Profile.DisplayName,
			&item.Profile.Email,
			&item.Profile.PasswordHash,
			&item.Profile.AccountType,
			&item.Profile.MunicipalityID,
			&item.Profile.IsEmailVerified,
			&item.Profile.VerificationToken,
			&item.Profile.VerificationExpiresAt,
			&item.Profile.DeactivatedAt,
			&item.Profile.CreatedAt,
			&item.Profile.UpdatedAt,
			&item.AssignedOpen,
		); err != nil {
			return nil, fmt.Errorf("scan reviewer: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviewers: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Auth sessions
// ---------------------------------------------------------------------------

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, profile Profile, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, profile_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET profile_id=EXCLUDED.profile_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, profile.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Profile, error) {
	const query = `
		SELECT p.id, p.display_name, p.email, p.account_type, COALESCE(p.municipality_id, '')
		FROM refresh_sessions rs
		JOIN profiles p ON p.id = rs.profile_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var profile Profile
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&profile.ID, &profile.DisplayName, &profile.Email, &profile.AccountType, &profile.MunicipalityID)
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---------------------------------------------------------------------------
// Municipalities and merchants
// ---------------------------------------------------------------------------

func (s *PostgresStore) GetMunicipality(ctx context.Context, municipalityID string) (Municipality, error) {
	var item Municipality
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, timezone, COALESCE(merchant_id, ''), created_at, updated_at
		FROM municipalities
		WHERE id=$1
	`, municipalityID).Scan(&item.ID, &item.Name, &item.Slug, &item.Timezone, &item.MerchantID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Municipality{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetMerchant(ctx context.Context, merchantID string) (Merchant, error) {
	var item Merchant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, municipality_id, finix_identity, finix_merchant, display_name, created_at
		FROM merchants
		WHERE id=$1
	`, merchantID).Scan(&item.ID, &item.MunicipalityID, &item.FinixIdentity, &item.FinixMerchant, &item.DisplayName, &item.CreatedAt)
	if err != nil {
		return Merchant{}, err
	}
	return item, nil
}

// ---------------------------------------------------------------------------
// Applications
// ---------------------------------------------------------------------------

const applicationColumns = `id, municipality_id, applicant_id, reviewer_id, merchant_id, status, COALESCE(reason, ''), title, COALESCE(details, ''), base_amount_cents, service_fee_cents, total_amount_cents, version, submitted_at, approved_at, denied_at, issued_at, created_at, updated_at`

func scanApplication(kind workflow.Kind, row interface{ Scan(...any) error }) (Application, error) {
	item := Application{Kind: string(kind)}
	err := row.Scan(
		&item.ID,
		&item.MunicipalityID,
		&item.ApplicantID,
		&item.ReviewerID,
		&item.MerchantID,
		&item.Status,
		&item.Reason,
		&item.Title,
		&item.Details,
		&item.BaseAmountCents,
		&item.ServiceFeeCents,
		&item.TotalAmountCents,
		&item.Version,
		&item.SubmittedAt,
		&item.ApprovedAt,
		&item.DeniedAt,
		&item.IssuedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertApplication(ctx context.Context, kind workflow.Kind, item Application) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (id, municipality_id, applicant_id, merchant_id, status, title, details, base_amount_cents, service_fee_cents, total_amount_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.MunicipalityID, item.ApplicantID, item.MerchantID, item.Status, item.Title, item.Details, item.BaseAmountCents, item.ServiceFeeCents, item.TotalAmountCents)
	if err != nil {
		return fmt.Errorf("insert %s application: %w", kind, err)
	}
	return nil
}

func (s *PostgresStore) GetApplication(ctx context.Context, kind workflow.Kind, applicationID string) (Application, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Application{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM `+table+` WHERE id=$1`, applicationID)
	return scanApplication(kind, row)
}

func (s *PostgresStore) listApplications(ctx context.Context, kind workflow.Kind, where string, args ...any) ([]Application, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+applicationColumns+` FROM `+table+` WHERE `+where+` ORDER BY updated_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s applications: %w", kind, err)
	}
	defer rows.Close()

	items := make([]Application, 0)
	for rows.Next() {
		item, err := scanApplication(kind, rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s application: %w", kind, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s applications: %w", kind, err)
	}
	return items, nil
}

func (s *PostgresStore) ListApplicationsByApplicant(ctx context.Context, kind workflow.Kind, applicantID string) ([]Application, error) {
	return s.listApplications(ctx, kind, `applicant_id=$1`, applicantID)
}

func (s *PostgresStore) ListApplicationsByMunicipality(ctx context.Context, kind workflow.Kind, municipalityID string) ([]Application, error) {
	return s.listApplications(ctx, kind, `municipality_id=$1`, municipalityID)
}

// ListApplicationsInStatusBefore returns applications that entered the given
// status before the cutoff, used by the expiry sweep.
func (s *PostgresStore) ListApplicationsInStatusBefore(ctx context.Context, kind workflow.Kind, status workflow.Status, cutoff time.Time) ([]Application, error) {
	return s.listApplications(ctx, kind, `status=$1 AND updated_at < $2`, string(status), cutoff)
}

// statusTimestampColumns maps entered statuses to the timestamp column the
// transition stamps. Only fixed values from this map are interpolated.
var statusTimestampColumns = map[workflow.Status]string{
	workflow.StatusSubmitted: "submitted_at",
	workflow.StatusApproved:  "approved_at",
	workflow.StatusDenied:    "denied_at",
	workflow.StatusIssued:    "issued_at",
}

// UpdateApplicationStatus applies a validated transition with a
// compare-and-swap on the version column. It returns ErrVersionConflict when
// the record changed since the caller read it, and sql.ErrNoRows when no
// record matches at all.
func (s *PostgresStore) UpdateApplicationStatus(ctx context.Context, kind workflow.Kind, applicationID string, newStatus workflow.Status, reason string, expectedVersion int64) (Application, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Application{}, err
	}

	set := `status=$2, version=version+1, updated_at=NOW()`
	if column, ok := statusTimestampColumns[newStatus]; ok {
		set += `, ` + column + `=NOW()`
	}
	args := []any{applicationID, string(newStatus), expectedVersion}
	if reason != "" {
		set += `, reason=$4`
		args = append(args, reason)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE `+table+`
		SET `+set+`
		WHERE id=$1 AND version=$3
		RETURNING `+applicationColumns+`
	`, args...)
	item, err := scanApplication(kind, row)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a missing record from a lost race.
		if _, getErr := s.GetApplication(ctx, kind, applicationID); getErr == nil {
			return Application{}, ErrVersionConflict
		}
		return Application{}, sql.ErrNoRows
	}
	if err != nil {
		return Application{}, fmt.Errorf("update %s status: %w", kind, err)
	}
	return item, nil
}

// SetApplicationReviewer assigns or clears the reviewer. The write is
// unconditional and idempotent; assignment does not touch the version column
// because it is orthogonal to status.
func (s *PostgresStore) SetApplicationReviewer(ctx context.Context, kind workflow.Kind, applicationID string, reviewerID *string) (Application, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Application{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE `+table+`
		SET reviewer_id=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING `+applicationColumns+`
	`, applicationID, reviewerID)
	item, err := scanApplication(kind, row)
	if err != nil {
		return Application{}, err
	}
	return item, nil
}

// SummaryCounts reports queue totals for a municipality across all kinds.
func (s *PostgresStore) SummaryCounts(ctx context.Context, municipalityID string) (total int, openReviews int, approved int, err error) {
	for _, kind := range workflow.Kinds() {
		table, tErr := tableFor(kind)
		if tErr != nil {
			err = tErr
			return
		}
		var kindTotal, kindOpen, kindApproved int
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*),
				COUNT(*) FILTER (WHERE status IN ('submitted', 'under_review', 'information_requested', 'resubmitted')),
				COUNT(*) FILTER (WHERE status IN ('approved', 'issued'))
			FROM `+table+`
			WHERE municipality_id=$1
		`, municipalityID).Scan(&kindTotal, &kindOpen, &kindApproved)
		if err != nil {
			err = fmt.Errorf("summary counts for %s: %w", kind, err)
			return
		}
		total += kindTotal
		openReviews += kindOpen
		approved += kindApproved
	}
	return
}

// ---------------------------------------------------------------------------
// Comments
// ---------------------------------------------------------------------------

func (s *PostgresStore) InsertComment(ctx context.Context, kind workflow.Kind, comment Comment) error {
	table, err := commentsTableFor(kind)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (id, application_id, author_id, author_name, body, is_internal)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, comment.ID, comment.ApplicationID, comment.AuthorID, comment.AuthorName, comment.Text, comment.IsInternal)
	if err != nil {
		return fmt.Errorf("insert %s comment: %w", kind, err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, kind workflow.Kind, applicationID string, includeInternal bool) ([]Comment, error) {
	table, err := commentsTableFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, application_id, author_id, author_name, body, is_internal, created_at
		FROM `+table+`
		WHERE application_id=$1
		  AND ($2::boolean OR NOT is_internal)
		ORDER BY created_at ASC
	`, applicationID, includeInternal)
	if err != nil {
		return nil, fmt.Errorf("list %s comments: %w", kind, err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.ApplicationID, &item.AuthorID, &item.AuthorName, &item.Text, &item.IsInternal, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan %s comment: %w", kind, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s comments: %w", kind, err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Status history
// ---------------------------------------------------------------------------

func (s *PostgresStore) InsertStatusHistory(ctx context.Context, entry StatusHistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO application_status_history (kind, application_id, old_status, new_status, changed_by, reason, ledger_hash)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
	`, entry.Kind, entry.ApplicationID, entry.OldStatus, entry.NewStatus, entry.ChangedBy, entry.Reason, entry.LedgerHash)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStatusHistory(ctx context.Context, kind workflow.Kind, applicationID string) ([]StatusHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, application_id, old_status, new_status, changed_by, COALESCE(reason, ''), COALESCE(ledger_hash, ''), created_at
		FROM application_status_history
		WHERE kind=$1 AND application_id=$2
		ORDER BY created_at ASC, id ASC
	`, string(kind), applicationID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	items := make([]StatusHistoryEntry, 0)
	for rows.Next() {
		var item StatusHistoryEntry
		if err := rows.Scan(&item.ID, &item.Kind, &item.ApplicationID, &item.OldStatus, &item.NewStatus, &item.ChangedBy, &item.Reason, &item.LedgerHash, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status history: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Bookable services
// ---------------------------------------------------------------------------

func scanService(row interface{ Scan(...any) error }) (MunicipalService, error) {
	var item MunicipalService
	var days string
	err := row.Scan(
		&item.ID,
		&item.MunicipalityID,
		&item.Name,
		&item.Description,
		&item.StartTime,
		&item.EndTime,
		&item.SlotIntervalMinutes,
		&item.DurationMinutes,
		&item.BookingMode,
		&days,
		&item.FeeCents,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return MunicipalService{}, err
	}
	if days != "" {
		item.AvailableDays = strings.Split(days, ",")
	}
	return item, nil
}

const serviceColumns = `id, municipality_id, name, COALESCE(description, ''), start_time, end_time, slot_interval_minutes, duration_minutes, booking_mode, COALESCE(available_days, ''), fee_cents, created_at, updated_at`

func (s *PostgresStore) ListServices(ctx context.Context, municipalityID string) ([]MunicipalService, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+serviceColumns+`
		FROM municipal_services
		WHERE municipality_id=$1
		ORDER BY name ASC
	`, municipalityID)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	items := make([]MunicipalService, 0)
	for rows.Next() {
		item, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetService(ctx context.Context, serviceID string) (MunicipalService, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM municipal_services WHERE id=$1`, serviceID)
	return scanService(row)
}

func (s *PostgresStore) ListBookingsForDay(ctx context.Context, serviceID, bookingDate string) ([]Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, service_id, profile_id, booking_date::text, start_time, end_time, status, created_at
		FROM bookings
		WHERE service_id=$1 AND booking_date=$2::date AND status <> 'cancelled'
		ORDER BY start_time ASC
	`, serviceID, bookingDate)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	items := make([]Booking, 0)
	for rows.Next() {
		var item Booking
		if err := rows.Scan(&item.ID, &item.ServiceID, &item.ProfileID, &item.BookingDate, &item.StartTime, &item.EndTime, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertBooking(ctx context.Context, booking Booking) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (id, service_id, profile_id, booking_date, start_time, end_time, status)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7)
	`, booking.ID, booking.ServiceID, booking.ProfileID, booking.BookingDate, booking.StartTime, booking.EndTime, booking.Status)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Payments
// ---------------------------------------------------------------------------

const paymentColumns = `id, kind, application_id, payer_id, merchant_id, amount_cents, fee_cents, state, method, idempotency_key, COALESCE(finix_transfer, ''), COALESCE(failure_reason, ''), created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (Payment, error) {
	var item Payment
	err := row.Scan(
		&item.ID,
		&item.Kind,
		&item.ApplicationID,
		&item.PayerID,
		&item.MerchantID,
		&item.AmountCents,
		&item.FeeCents,
		&item.State,
		&item.Method,
		&item.IdempotencyKey,
		&item.FinixTransfer,
		&item.FailureReason,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertPayment(ctx context.Context, payment Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, kind, application_id, payer_id, merchant_id, amount_cents, fee_cents, state, method, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, payment.ID, payment.Kind, payment.ApplicationID, payment.PayerID, payment.MerchantID, payment.AmountCents, payment.FeeCents, payment.State, payment.Method, payment.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, paymentID)
	return scanPayment(row)
}

func (s *PostgresStore) GetPaymentByIdempotencyKey(ctx context.Context, key string) (Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key=$1`, key)
	return scanPayment(row)
}

func (s *PostgresStore) UpdatePaymentState(ctx context.Context, paymentID, state, finixTransfer, failureReason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET state=$2, finix_transfer=COALESCE(NULLIF($3, ''), finix_transfer), failure_reason=NULLIF($4, ''), updated_at=NOW()
		WHERE id=$1
	`, paymentID, state, finixTransfer, failureReason)
	if err != nil {
		return fmt.Errorf("update payment state: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Application documents
// ---------------------------------------------------------------------------

func (s *PostgresStore) InsertApplicationDocument(ctx context.Context, doc ApplicationDocument) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO application_documents (id, kind, application_id, uploaded_by, file_name, content_type, size_bytes, object_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, doc.ID, doc.Kind, doc.ApplicationID, doc.UploadedBy, doc.FileName, doc.ContentType, doc.SizeBytes, doc.ObjectKey)
	if err != nil {
		return fmt.Errorf("insert application document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListApplicationDocuments(ctx context.Context, kind workflow.Kind, applicationID string) ([]ApplicationDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, application_id, uploaded_by, file_name, content_type, size_bytes, object_key, created_at
		FROM application_documents
		WHERE kind=$1 AND application_id=$2
		ORDER BY created_at ASC
	`, string(kind), applicationID)
	if err != nil {
		return nil, fmt.Errorf("list application documents: %w", err)
	}
	defer rows.Close()

	items := make([]ApplicationDocument, 0)
	for rows.Next() {
		var item ApplicationDocument
		if err := rows.Scan(&item.ID, &item.Kind, &item.ApplicationID, &item.UploadedBy, &item.FileName, &item.ContentType, &item.SizeBytes, &item.ObjectKey, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan application document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate application documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetApplicationDocument(ctx context.Context, documentID string) (ApplicationDocument, error) {
	var item ApplicationDocument
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, application_id, uploaded_by, file_name, content_type, size_bytes, object_key, created_at
		FROM application_documents
		WHERE id=$1
	`, documentID).Scan(&item.ID, &item.Kind, &item.ApplicationID, &item.UploadedBy, &item.FileName, &item.ContentType, &item.SizeBytes, &item.ObjectKey, &item.CreatedAt)
	if err != nil {
		return ApplicationDocument{}, err
	}
	return item, nil
}
