package model

import (
	"time"

	"gorm.io/datatypes"
)

// Urgency is the ordinal urgency of a maintenance request (1 low .. 4 critical)
type Urgency int

const (
	UrgencyLow      Urgency = 1
	UrgencyMedium   Urgency = 2
	UrgencyHigh     Urgency = 3
	UrgencyCritical Urgency = 4
)

func (u Urgency) IsValid() bool {
	return u >= UrgencyLow && u <= UrgencyCritical
}

// OrDefault returns u when valid, otherwise medium.
func (u Urgency) OrDefault() Urgency {
	if u.IsValid() {
		return u
	}
	return UrgencyMedium
}

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyMedium:
		return "medium"
	case UrgencyHigh:
		return "high"
	case UrgencyCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// RequestStatus is the lifecycle state of a maintenance request
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusScheduled RequestStatus = "scheduled"
	StatusCompleted RequestStatus = "completed"
	StatusClosed    RequestStatus = "closed"
)

var requestStatusTransitions = map[RequestStatus][]RequestStatus{
	StatusPending:   {StatusScheduled, StatusClosed},
	StatusScheduled: {StatusCompleted, StatusClosed},
	StatusCompleted: {StatusClosed},
	StatusClosed:    {},
}

func (s RequestStatus) IsValid() bool {
	_, ok := requestStatusTransitions[s]
	return ok
}

func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, allowed := range requestStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MaintenanceRequest is a tenant's ticket. It owns its resources and documentation.
type MaintenanceRequest struct {
	ID         uint          `gorm:"primaryKey" json:"id"`
	Title      string        `gorm:"size:200;not null" json:"title"`
	RawText    string        `gorm:"type:text;not null" json:"raw_text"`
	Summary    string        `gorm:"type:text" json:"summary"`
	Urgency    Urgency       `gorm:"not null;default:2" json:"urgency"`
	Status     RequestStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	TenantID   uint          `gorm:"not null;index" json:"tenant_id"`
	PropertyID uint          `gorm:"not null;index" json:"property_id"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`

	Resources     []Resource     `gorm:"foreignKey:RefID;constraint:OnDelete:CASCADE" json:"resources,omitempty"`
	Documentation *Documentation `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"documentation,omitempty"`
}

// ResourceRefMaintenance is the reference type of files attached to a maintenance request.
const ResourceRefMaintenance = "maintenance_request"

// Resource is a stored file attached to a request. Rows are never updated.
type Resource struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RefID     uint      `gorm:"not null;index:idx_resource_ref" json:"ref_id"`
	RefType   string    `gorm:"size:50;not null;index:idx_resource_ref" json:"ref_type"`
	URL       string    `gorm:"size:1024;not null" json:"url"`
	Filename  string    `gorm:"size:255;not null" json:"filename"`
	CreatedAt time.Time `json:"created_at"`
}

// Documentation is the provenance trail of how a ticket was derived.
type Documentation struct {
	ID        uint                                    `gorm:"primaryKey" json:"id"`
	RequestID uint                                    `gorm:"not null;uniqueIndex" json:"request_id"`
	Record    datatypes.JSONType[DocumentationRecord] `json:"record"`
	CreatedAt time.Time                               `json:"created_at"`
}

// DocumentationRecord is stored as JSON. ImageAnalysis is empty when the
// visual analysis stage was unavailable.
type DocumentationRecord struct {
	OriginalTitle          string          `json:"original_title"`
	OriginalText           string          `json:"original_text"`
	ProcessedText          string          `json:"processed_text"`
	Urgency                Urgency         `json:"urgency"`
	UploadedURLs           []string        `json:"uploaded_urls"`
	OriginalFilenames      []string        `json:"original_filenames"`
	Procedure              string          `json:"procedure"`
	Translated             bool            `json:"translated"`
	ImageAnalysisAvailable bool            `json:"image_analysis_available"`
	ImageAnalysis          []ImageAnalysis `json:"image_analysis,omitempty"`
	SummaryFallback        bool            `json:"summary_fallback"`
	UrgencyFallback        bool            `json:"urgency_fallback"`
	ProcedureFallback      bool            `json:"procedure_fallback"`
	UploadFailed           bool            `json:"upload_failed"`
	GeneratedAt            time.Time       `json:"generated_at"`
}

// ImageAnalysis is the per-image result of the image-understanding service.
type ImageAnalysis struct {
	Filename         string         `json:"filename,omitempty"`
	Success          bool           `json:"success"`
	Description      string         `json:"description"`
	MaintenanceIssue string         `json:"maintenance_issue,omitempty"`
	Analysis         AnalysisDetail `json:"analysis"`
	ConfidenceScore  float64        `json:"confidence_score"`
}

type AnalysisDetail struct {
	Components []string `json:"components,omitempty"`
	RiskLevel  string   `json:"risk_level,omitempty"`
}
