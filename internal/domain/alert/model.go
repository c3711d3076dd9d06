package alert

import (
	"time"
)

const (
	TypeInfo     = "info"
	TypeWarning  = "warning"
	TypeCritical = "critical"
)

// Alert is a patient notification. Acknowledged only ever moves from false
// to true, through Acknowledge.
type Alert struct {
	ID             int64      `db:"id" json:"id"`
	PatientID      string     `db:"patient_id" json:"patientId"`
	Type           string     `db:"type" json:"type"`
	Message        string     `db:"message" json:"message"`
	Details        string     `db:"details" json:"details"`
	Acknowledged   bool       `db:"acknowledged" json:"acknowledged"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledgedAt"`
	AcknowledgedBy *string    `db:"acknowledged_by" json:"acknowledgedBy"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

func (a *Alert) Key() int64 { return a.ID }

func (a *Alert) Stamp(id int64, now time.Time) {
	a.ID = id
	a.CreatedAt = now
	a.UpdatedAt = now
}

func (a *Alert) Touch(now time.Time) { a.UpdatedAt = now }

type CreateRequest struct {
	Type    string `json:"type" form:"type" validate:"required,oneof=info warning critical"`
	Message string `json:"message" form:"message" validate:"required,max=1000"`
	Details string `json:"details" form:"details" validate:"max=4000"`
}

// ListFilter selects alerts across patients. A nil Acknowledged returns all.
type ListFilter struct {
	Acknowledged *bool
	Type         string
	Limit        int
	Offset       int
}
