package research

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantnex/quantnex/internal/platform/apperr"
	"github.com/quantnex/quantnex/internal/platform/auth"
	"github.com/quantnex/quantnex/internal/platform/jobs"
)

const defaultEpochs = 10

type Service struct {
	registry *jobs.Registry
	// epochDelayMax bounds the simulated duration of one epoch.
	epochDelayMax time.Duration
	logger        zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewService(registry *jobs.Registry, epochDelayMax time.Duration, rng *rand.Rand, logger zerolog.Logger) *Service {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Service{
		registry:      registry,
		epochDelayMax: epochDelayMax,
		rng:           rng,
		logger:        logger.With().Str("component", "research").Logger(),
	}
}

func (s *Service) Submit(ctx context.Context, req *TrainingRequest) (*TrainingJob, error) {
	epochs := req.Epochs
	if epochs == 0 {
		epochs = defaultEpochs
	}
	params := map[string]string{
		"dataset":   req.Dataset,
		"modelType": req.ModelType,
		"epochs":    strconv.Itoa(epochs),
	}
	j, err := s.registry.Submit(KindTraining, auth.ActorFromContext(ctx), params, s.train(epochs))
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) || errors.Is(err, jobs.ErrShuttingDown) {
			return nil, &apperr.AppError{
				Status:  http.StatusServiceUnavailable,
				Code:    "UNAVAILABLE",
				Message: "training queue unavailable, retry later",
				Err:     err,
			}
		}
		return nil, err
	}
	s.logger.Info().Str("job_id", j.ID).Str("dataset", req.Dataset).Str("model_type", req.ModelType).Msg("training submitted")
	return fromJob(j), nil
}

func (s *Service) Get(id string) (*TrainingJob, error) {
	j, err := s.registry.Get(id)
	if errors.Is(err, jobs.ErrNotFound) {
		return nil, apperr.NotFound("training job")
	}
	if err != nil {
		return nil, err
	}
	return fromJob(j), nil
}

func (s *Service) List() []*TrainingJob {
	all := s.registry.List(KindTraining)
	out := make([]*TrainingJob, 0, len(all))
	for _, j := range all {
		out = append(out, fromJob(j))
	}
	return out
}

// Cancel stops a queued or running job. Finished jobs cannot be cancelled.
func (s *Service) Cancel(id string) (*TrainingJob, error) {
	j, err := s.registry.Cancel(id)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return nil, apperr.NotFound("training job")
	case errors.Is(err, jobs.ErrFinished):
		return nil, apperr.Conflict("training job already finished")
	case err != nil:
		return nil, err
	}
	return fromJob(j), nil
}

// train returns the simulated training run: a loss curve that decays over
// the epochs with some noise.
func (s *Service) train(epochs int) jobs.Func {
	return func(ctx context.Context, report func(float64)) (map[string]any, error) {
		loss := 1.0
		for e := 1; e <= epochs; e++ {
			if err := jobs.Sleep(ctx, s.epochDelay()); err != nil {
				return nil, err
			}
			s.mu.Lock()
			loss *= 0.7 + 0.2*s.rng.Float64()
			s.mu.Unlock()
			report(float64(e) / float64(epochs))
		}
		accuracy := 1 - loss/2
		return map[string]any{
			"epochs":    epochs,
			"loss":      round4(loss),
			"accuracy":  round4(math.Min(accuracy, 0.99)),
			"simulated": true,
		}, nil
	}
}

func (s *Service) epochDelay() time.Duration {
	if s.epochDelayMax <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.rng.Int63n(int64(s.epochDelayMax)))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
