package research

import (
	"time"

	"github.com/quantnex/quantnex/internal/platform/jobs"
)

// KindTraining is the job registry kind for model training runs.
const KindTraining = "training"

// TrainingJob is the API view of a training run. Training is simulated, so
// Simulated is always true and Metrics carry no meaning.
type TrainingJob struct {
	ID          string         `json:"id"`
	Dataset     string         `json:"dataset"`
	ModelType   string         `json:"modelType"`
	Status      jobs.Status    `json:"status"`
	Progress    float64        `json:"progress"`
	Metrics     map[string]any `json:"metrics"`
	Error       string         `json:"error,omitempty"`
	SubmittedBy string         `json:"submittedBy"`
	SubmittedAt time.Time      `json:"submittedAt"`
	StartedAt   *time.Time     `json:"startedAt"`
	FinishedAt  *time.Time     `json:"finishedAt"`
	Simulated   bool           `json:"simulated"`
}

func fromJob(j jobs.Job) *TrainingJob {
	metrics := j.Result
	if metrics == nil {
		metrics = map[string]any{}
	}
	return &TrainingJob{
		ID:          j.ID,
		Dataset:     j.Params["dataset"],
		ModelType:   j.Params["modelType"],
		Status:      j.Status,
		Progress:    j.Progress,
		Metrics:     metrics,
		Error:       j.Error,
		SubmittedBy: j.SubmittedBy,
		SubmittedAt: j.SubmittedAt,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.FinishedAt,
		Simulated:   true,
	}
}

type TrainingRequest struct {
	Dataset   string `json:"dataset" form:"dataset" validate:"required,max=128"`
	ModelType string `json:"modelType" form:"modelType" validate:"required,oneof=diagnosis prognosis radiation segmentation"`
	Epochs    int    `json:"epochs" form:"epochs" validate:"omitempty,gte=1,lte=100"`
}
