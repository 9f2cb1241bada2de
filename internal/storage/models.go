package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateJob is returned when a document already has an extraction job.
var ErrDuplicateJob = errors.New("extraction job already exists for document")

// ErrDuplicateShipment is returned when a shipment number is already taken.
var ErrDuplicateShipment = errors.New("shipment number already exists")

// ErrInvalidTransition is returned when a job is not in the state an update expects.
var ErrInvalidTransition = errors.New("invalid job state transition")

// JobStatus is the lifecycle state of an extraction job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// validTransitions lists every allowed (from → to) pair.
// Completed and failed are terminal.
var validTransitions = map[JobStatus][]JobStatus{
	JobPending:    {JobProcessing},
	JobProcessing: {JobCompleted, JobFailed},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

type Shipment struct {
	ID               string    `json:"id"`
	ShipmentNumber   string    `json:"shipment_number"`
	SupplierID       string    `json:"supplier_id"`
	OriginPort       string    `json:"origin_port"`
	DestinationPort  string    `json:"destination_port"`
	GoodsDescription string    `json:"goods_description"`
	HSCode           string    `json:"hs_code"`
	GrossWeightKg    *float64  `json:"gross_weight_kg"`
	NetWeightKg      *float64  `json:"net_weight_kg"`
	VolumeCBM        *float64  `json:"volume_cbm"`
	TotalPackages    *int      `json:"total_packages"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Document is an uploaded file attached to a shipment. The extraction
// fields stay nil until its job completes.
type Document struct {
	ID               string         `json:"id"`
	ShipmentID       string         `json:"shipment_id"`
	UploadedBy       string         `json:"uploaded_by"`
	Type             string         `json:"type"`
	FileName         string         `json:"file_name"`
	FileURL          string         `json:"file_url"`
	StorageKey       string         `json:"-"`
	FileSize         int64          `json:"file_size"`
	MIMEType         string         `json:"mime_type"`
	ExtractedData    map[string]any `json:"extracted_data"`
	ConfidenceScore  *float64       `json:"confidence_score"`
	ExtractionMethod *string        `json:"extraction_method"`
	NeedsReview      *bool          `json:"needs_review"`
	CreatedAt        time.Time      `json:"created_at"`
}

type ExtractionJob struct {
	ID               string    `json:"id"`
	DocumentID       string    `json:"document_id"`
	Status           JobStatus `json:"status"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	ModelUsed        string    `json:"model_used,omitempty"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	Attempts         int       `json:"attempts"`
	SpoolPath        string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ExtractionOutcome is what a successful extraction writes back.
type ExtractionOutcome struct {
	Fields           map[string]any
	Confidence       float64
	Method           string
	Model            string // recorded as model_used; Method when empty
	NeedsReview      bool
	ProcessingTimeMs int64
}

type APIToken struct {
	TokenHash string
	UserID    string
	Role      string
	CreatedAt time.Time
}
