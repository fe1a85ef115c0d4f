// Package export renders issued permits and licenses as printable PDF
// certificates.
package export

import (
	"errors"
	"time"
)

// Request contains parameters for a certificate export
type Request struct {
	Kind          string
	ApplicationID string
}

// Certificate holds the data printed on an issued certificate
type Certificate struct {
	ApplicationID    string
	Kind             string
	KindLabel        string
	Title            string
	HolderName       string
	MunicipalityName string
	IssuedAt         time.Time
	ApprovedBy       string
	TotalPaidCents   int64
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrNotIssued indicates the application is not in a certifiable state.
	ErrNotIssued = errors.New("export application not issued")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
