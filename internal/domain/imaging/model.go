package imaging

import (
	"time"
)

var ScanTypes = map[string]bool{
	"CT":         true,
	"MRI":        true,
	"PET":        true,
	"X-ray":      true,
	"Ultrasound": true,
}

// Scan is an uploaded imaging study. Scans are immutable once stored.
type Scan struct {
	ID              int64     `db:"id" json:"id"`
	PatientID       string    `db:"patient_id" json:"patientId"`
	ScanType        string    `db:"scan_type" json:"scanType"`
	FileName        string    `db:"file_name" json:"fileName"`
	FileRef         string    `db:"file_ref" json:"fileRef"`
	FileURL         string    `db:"file_url" json:"fileUrl"`
	ContentType     string    `db:"content_type" json:"contentType"`
	Size            int64     `db:"size" json:"size"`
	SHA256          string    `db:"sha256" json:"sha256"`
	TumorDetected   bool      `db:"tumor_detected" json:"tumorDetected"`
	TumorSize       *float64  `db:"tumor_size" json:"tumorSize"`
	TumorLocation   *string   `db:"tumor_location" json:"tumorLocation"`
	MalignancyScore *float64  `db:"malignancy_score" json:"malignancyScore"`
	Notes           string    `db:"notes" json:"notes"`
	UploadedBy      string    `db:"uploaded_by" json:"uploadedBy"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

func (s *Scan) Key() int64 { return s.ID }

func (s *Scan) Stamp(id int64, now time.Time) {
	s.ID = id
	s.CreatedAt = now
	s.UpdatedAt = now
}

func (s *Scan) Touch(now time.Time) { s.UpdatedAt = now }

// UploadFields are the form fields sent alongside the scan file. Tumor
// findings are asserted by the uploader; the server does not analyse images.
type UploadFields struct {
	ScanType        string   `form:"scanType" json:"scanType" validate:"required,oneof=CT MRI PET X-ray Ultrasound"`
	TumorDetected   bool     `form:"tumorDetected" json:"tumorDetected"`
	TumorSize       *float64 `form:"tumorSize" json:"tumorSize" validate:"omitempty,gte=0"`
	TumorLocation   *string  `form:"tumorLocation" json:"tumorLocation" validate:"omitempty,max=255"`
	MalignancyScore *float64 `form:"malignancyScore" json:"malignancyScore" validate:"omitempty,unit"`
	Notes           string   `form:"notes" json:"notes" validate:"max=4000"`
}
