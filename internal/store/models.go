package store

import "time"

type Profile struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	AccountType           string
	MunicipalityID        string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Municipality struct {
	ID         string
	Name       string
	Slug       string
	Timezone   string
	MerchantID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Merchant is a municipality's payment-receiving entity at the gateway.
type Merchant struct {
	ID             string
	MunicipalityID string
	FinixIdentity  string
	FinixMerchant  string
	DisplayName    string
	CreatedAt      time.Time
}

// Application is one row of any of the four application tables. The kind
// descriptor decides which table a given record lives in; the shape is
// identical across kinds.
type Application struct {
	ID               string
	Kind             string
	MunicipalityID   string
	ApplicantID      string
	ReviewerID       *string
	MerchantID       *string
	Status           string
	Reason           string
	Title            string
	Details          string
	BaseAmountCents  int64
	ServiceFeeCents  int64
	TotalAmountCents int64
	Version          int64
	SubmittedAt      *time.Time
	ApprovedAt       *time.Time
	DeniedAt         *time.Time
	IssuedAt         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Comment is an append-only entry in an application's communication thread.
type Comment struct {
	ID            string
	ApplicationID string
	AuthorID      string
	AuthorName    string
	Text          string
	IsInternal    bool
	CreatedAt     time.Time
}

// StatusHistoryEntry records one applied transition.
type StatusHistoryEntry struct {
	ID            int64
	Kind          string
	ApplicationID string
	OldStatus     string
	NewStatus     string
	ChangedBy     string
	Reason        string
	LedgerHash    string
	CreatedAt     time.Time
}

// MunicipalService is a bookable service (inspection, consultation, hall
// rental) with configured business hours.
type MunicipalService struct {
	ID                  string
	MunicipalityID      string
	Name                string
	Description         string
	StartTime           string
	EndTime             string
	SlotIntervalMinutes int
	DurationMinutes     int
	BookingMode         string
	AvailableDays       []string
	FeeCents            int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Booking struct {
	ID          string
	ServiceID   string
	ProfileID   string
	BookingDate string
	StartTime   string
	EndTime     string
	Status      string
	CreatedAt   time.Time
}

type Payment struct {
	ID             string
	Kind           string
	ApplicationID  string
	PayerID        string
	MerchantID     string
	AmountCents    int64
	FeeCents       int64
	State          string
	Method         string
	IdempotencyKey string
	FinixTransfer  string
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ApplicationDocument is the metadata row for an uploaded file; the bytes
// live in object storage under ObjectKey.
type ApplicationDocument struct {
	ID            string
	Kind          string
	ApplicationID string
	UploadedBy    string
	FileName      string
	ContentType   string
	SizeBytes     int64
	ObjectKey     string
	CreatedAt     time.Time
}

// ReviewerWorkload pairs a staff profile with their open application count.
type ReviewerWorkload struct {
	Profile      Profile
	AssignedOpen int
}

// SnapshotInfo describes one ledger commit for an application.
type SnapshotInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
