package export

import (
	"context"
	"fmt"
	"time"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetApplicationInfo(ctx context.Context, kind, applicationID string) (ApplicationInfo, error)
	GetMunicipalityInfo(ctx context.Context, municipalityID string) (MunicipalityInfo, error)
	GetProfileInfo(ctx context.Context, profileID string) (ProfileInfo, error)
}

// ApplicationInfo holds the application fields needed for a certificate
type ApplicationInfo struct {
	ID               string
	KindLabel        string
	Title            string
	Status           string
	MunicipalityID   string
	ApplicantID      string
	ReviewerID       string
	TotalAmountCents int64
	IssuedAt         *time.Time
}

// MunicipalityInfo holds municipality metadata
type MunicipalityInfo struct {
	ID   string
	Name string
}

// ProfileInfo holds profile metadata
type ProfileInfo struct {
	ID          string
	DisplayName string
}

// Service renders certificates for issued applications
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export renders the certificate PDF for an issued application. Applications
// in any other status return ErrNotIssued.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	info, err := s.store.GetApplicationInfo(ctx, req.Kind, req.ApplicationID)
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}

	if info.Status != "issued" {
		return nil, ErrNotIssued
	}

	municipality, err := s.store.GetMunicipalityInfo(ctx, info.MunicipalityID)
	if err != nil {
		return nil, fmt.Errorf("get municipality: %w", err)
	}

	cert := Certificate{
		ApplicationID:    info.ID,
		Kind:             req.Kind,
		KindLabel:        info.KindLabel,
		Title:            info.Title,
		MunicipalityName: municipality.Name,
		TotalPaidCents:   info.TotalAmountCents,
	}

	if applicant, err := s.store.GetProfileInfo(ctx, info.ApplicantID); err == nil {
		cert.HolderName = applicant.DisplayName
	}
	if info.ReviewerID != "" {
		if reviewer, err := s.store.GetProfileInfo(ctx, info.ReviewerID); err == nil {
			cert.ApprovedBy = reviewer.DisplayName
		}
	}
	if info.IssuedAt != nil {
		cert.IssuedAt = *info.IssuedAt
	}

	html, err := RenderCertificateHTML(cert)
	if err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}

	return renderPDF(html, info.KindLabel+" "+info.ID)
}
