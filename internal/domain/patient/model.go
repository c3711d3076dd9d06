package patient

import (
	"encoding/json"
	"time"
)

var ValidStatuses = map[string]bool{
	"active":    true,
	"remission": true,
	"critical":  true,
	"inactive":  true,
}

// Patient is an oncology case. PatientID is the public key clinical
// resources reference.
type Patient struct {
	ID               int64           `db:"id" json:"id"`
	PatientID        string          `db:"patient_id" json:"patientId"`
	Name             string          `db:"name" json:"name"`
	Age              int             `db:"age" json:"age"`
	Gender           string          `db:"gender" json:"gender"`
	CancerType       string          `db:"cancer_type" json:"cancerType"`
	Stage            string          `db:"stage" json:"stage"`
	Status           string          `db:"status" json:"status"`
	TreatmentHistory json.RawMessage `db:"treatment_history" json:"treatmentHistory,omitempty"`
	CreatedBy        string          `db:"created_by" json:"createdBy"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updatedAt"`
}

func (p *Patient) Key() int64 { return p.ID }

func (p *Patient) Stamp(id int64, now time.Time) {
	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
}

func (p *Patient) Touch(now time.Time) { p.UpdatedAt = now }

type CreateRequest struct {
	PatientID        string          `json:"patientId" validate:"required,max=64,patientid"`
	Name             string          `json:"name" validate:"required,max=255"`
	Age              *int            `json:"age" validate:"required,gte=0,lte=150"`
	Gender           string          `json:"gender" validate:"required,oneof=Male Female Other"`
	CancerType       string          `json:"cancerType" validate:"required,max=128"`
	Stage            string          `json:"stage" validate:"required,max=32"`
	Status           string          `json:"status" validate:"omitempty,oneof=active remission critical inactive"`
	TreatmentHistory json.RawMessage `json:"treatmentHistory"`
}

// UpdateRequest is a partial update; nil fields keep their value.
type UpdateRequest struct {
	Name             *string         `json:"name" validate:"omitempty,min=1,max=255"`
	Age              *int            `json:"age" validate:"omitempty,gte=0,lte=150"`
	Gender           *string         `json:"gender" validate:"omitempty,oneof=Male Female Other"`
	CancerType       *string         `json:"cancerType" validate:"omitempty,min=1,max=128"`
	Stage            *string         `json:"stage" validate:"omitempty,min=1,max=32"`
	Status           *string         `json:"status" validate:"omitempty,oneof=active remission critical inactive"`
	TreatmentHistory json.RawMessage `json:"treatmentHistory"`
}

// ListFilter narrows patient listings. Search matches name, patient id or
// cancer type case-insensitively.
type ListFilter struct {
	Status string
	Search string
	Limit  int
	Offset int
}
