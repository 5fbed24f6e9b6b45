// Package orchestrator runs training jobs in the background. A job moves through
// intake, backend setup, training and publishing, and every transition is
// written to the job ledger so clients can poll it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/museai/lora-api/internal/artifact"
	"github.com/museai/lora-api/internal/diffusion"
	"github.com/museai/lora-api/internal/intake"
	"github.com/museai/lora-api/internal/ledger"
	"github.com/museai/lora-api/internal/logger"
	"github.com/museai/lora-api/internal/types"
)

var tracer = otel.Tracer("github.com/museai/lora-api/internal/orchestrator")

//go:generate mockgen -destination ./mock/mock.go -package mock . Observer,Decoder,ArtifactStore

var ErrShuttingDown = errors.New("supervisor is shutting down")

const (
	MsgInitializing = "Initializing training environment..."
	MsgProcessing   = "Processing training images..."
	MsgSettingUp    = "Setting up LoRA training..."
	MsgTraining     = "Training LoRA model..."
	MsgSaving       = "Saving model..."
	MsgCompleted    = "Training completed successfully!"

	ProgressProcessing = 10.0
	ProgressSettingUp  = 20.0
	ProgressTraining   = 30.0
	ProgressSaving     = 90.0
	ProgressCompleted  = 100.0

	// training steps are mapped onto [ProgressTraining, ProgressSaving]
	trainingSpan = ProgressSaving - ProgressTraining
	// a step message is written every this many steps
	stepMessageEvery = 100
)

// Decoder materializes one submitted image and returns its path.
type Decoder interface {
	Decode(ctx context.Context, payload string, filename string) (string, error)
}

type ArtifactStore interface {
	Put(ctx context.Context, meta artifact.Metadata, weightsDir string) error
	Get(ctx context.Context, modelID string) (artifact.Metadata, error)
	Delete(ctx context.Context, modelID string) error
}

// Backend stages a training run can fail in.
const (
	StageSetup      = "setup"
	StageTraining   = "training"
	StageSaving     = "saving"
	StagePublishing = "publishing"
)

// StageError wraps a failure from the training backend or the artifact store.
// Its text can carry backend output and is never shown to clients.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Observer is told about job lifecycle events after the ledger has been
// written. Observers cannot change the outcome of a job.
type Observer interface {
	JobSubmitted(ctx context.Context, jobID string, cfg types.TrainingConfig)
	JobFinished(ctx context.Context, result Result)
}

type Request struct {
	// Generated when empty
	JobID  string
	Config types.TrainingConfig
	// Base64 payloads as submitted
	Images []string
}

type Result struct {
	JobID    string
	Config   types.TrainingConfig
	Final    ledger.Snapshot
	Model    *artifact.Metadata
	Err      error
	Started  time.Time
	Finished time.Time
}

func (r Result) Succeeded() bool {
	return r.Final.State == ledger.StateCompleted
}

type Options struct {
	Ledger    *ledger.Ledger
	Intake    Decoder
	Store     ArtifactStore
	Trainer   diffusion.Trainer
	WorkDir   string
	BaseModel string
	Observers []Observer
	// Upper bound for observers of a finished job, defaults to two minutes
	ObserverTimeout time.Duration
}

// Supervisor owns every background training run.
type Supervisor struct {
	ledger          *ledger.Ledger
	intake          Decoder
	store           ArtifactStore
	trainer         diffusion.Trainer
	workDir         string
	baseModel       string
	observers       []Observer
	observerTimeout time.Duration

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(opts Options) (*Supervisor, error) {
	if opts.Ledger == nil || opts.Intake == nil || opts.Store == nil || opts.Trainer == nil {
		return nil, errors.New("ledger, intake, store and trainer are required")
	}

	if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	timeout := opts.ObserverTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	base, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		ledger:          opts.Ledger,
		intake:          opts.Intake,
		store:           opts.Store,
		trainer:         opts.Trainer,
		workDir:         opts.WorkDir,
		baseModel:       opts.BaseModel,
		observers:       opts.Observers,
		observerTimeout: timeout,
		base:            base,
		cancel:          cancel,
	}, nil
}

// Handle lets the submitter observe a run without polling the ledger.
type Handle struct {
	JobID string
	done  chan struct{}
	err   error
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err is nil for a completed job. Only valid after Done is closed.
func (h *Handle) Err() error {
	return h.err
}

// Submit registers the job in the ledger and starts it in the background. The
// run is detached from ctx: it keeps going after the request that started it
// returns, and only stops on Shutdown.
func (s *Supervisor) Submit(ctx context.Context, req Request) (*Handle, error) {
	ctx, span := tracer.Start(ctx, "Supervisor.Submit", trace.WithAttributes(
		attribute.Int("images", len(req.Images)),
		attribute.Int("steps", req.Config.TrainingSteps),
	))
	defer span.End()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		span.RecordError(ErrShuttingDown)
		span.SetStatus(codes.Error, "supervisor is shutting down")
		return nil, ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("job.id", jobID))

	if err := s.ledger.Create(jobID); err != nil {
		s.wg.Done()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create ledger entry")
		return nil, err
	}

	handle := &Handle{JobID: jobID, done: make(chan struct{})}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.base, cancel)

	go func() {
		defer s.wg.Done()
		defer cancel()
		defer stop()
		defer close(handle.done)

		handle.err = s.run(runCtx, jobID, req)
	}()

	logger.Logger.InfoContext(ctx, "training job submitted", "jobID", jobID)

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "submitted job")
	return handle, nil
}

// Shutdown cancels every running job and waits for them to reach a terminal
// state. Cancelled jobs end as failed.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) run(ctx context.Context, jobID string, req Request) error {
	ctx, span := tracer.Start(
		ctx,
		"Supervisor.run",
		trace.WithNewRoot(),
		trace.WithLinks(trace.LinkFromContext(ctx)),
		trace.WithAttributes(attribute.String("job.id", jobID)),
	)
	defer span.End()

	started := time.Now()
	s.notifySubmitted(ctx, jobID, req.Config)

	model, err := s.safeTrain(ctx, jobID, req)

	var final ledger.Snapshot
	if err == nil {
		final, err = s.ledger.Update(jobID, ledger.Update{}.
			WithState(ledger.StateCompleted).
			WithProgress(ProgressCompleted).
			WithMessage(MsgCompleted).
			WithModelID(model.ModelID))
		if err != nil {
			logger.Logger.ErrorContext(ctx, "failed to mark job completed",
				"jobID", jobID, "modelID", model.ModelID, "error", err)
			s.unpublish(ctx, jobID, model.ModelID)
		}
	}

	if err != nil {
		model = nil
		final = s.fail(ctx, jobID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "training job failed")
	} else {
		logger.Logger.InfoContext(ctx, "training job completed",
			"jobID", jobID, "modelID", model.ModelID, "duration", time.Since(started))
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "training job completed")
	}

	s.notifyFinished(ctx, Result{
		JobID:    jobID,
		Config:   req.Config,
		Final:    final,
		Model:    model,
		Err:      err,
		Started:  started,
		Finished: time.Now(),
	})

	return err
}

func (s *Supervisor) safeTrain(ctx context.Context, jobID string, req Request) (model *artifact.Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Logger.ErrorContext(ctx, "training job panicked", "jobID", jobID, "panic", r)
			model = nil
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	return s.train(ctx, jobID, req)
}

func (s *Supervisor) train(ctx context.Context, jobID string, req Request) (*artifact.Metadata, error) {
	s.advance(ctx, jobID, ledger.Update{}.
		WithState(ledger.StateTraining).
		WithProgress(0).
		WithMessage(MsgInitializing))

	paths, err := s.decodeImages(ctx, jobID, req.Images)
	if err != nil {
		return nil, err
	}
	s.advance(ctx, jobID, ledger.Update{}.WithProgress(ProgressProcessing).WithMessage(MsgProcessing))

	workDir := filepath.Join(s.workDir, jobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Logger.WarnContext(ctx, "failed to remove work directory",
				"jobID", jobID, "path", workDir, "error", err)
		}
	}()

	session, err := s.trainer.Setup(ctx, diffusion.TrainConfig{
		BaseModel:    s.baseModel,
		ImagePaths:   paths,
		Steps:        req.Config.TrainingSteps,
		LearningRate: req.Config.LearningRate,
		Resolution:   req.Config.Resolution,
	})
	if err != nil {
		return nil, &StageError{Stage: StageSetup, Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Logger.WarnContext(ctx, "failed to close training session",
				"jobID", jobID, "error", err)
		}
	}()
	s.advance(ctx, jobID, ledger.Update{}.WithProgress(ProgressSettingUp).WithMessage(MsgSettingUp))

	s.advance(ctx, jobID, ledger.Update{}.WithProgress(ProgressTraining).WithMessage(MsgTraining))
	err = session.Train(ctx, func(completed, total int) {
		if total <= 0 {
			return
		}
		u := ledger.Update{}.WithProgress(ProgressTraining + float64(completed)/float64(total)*trainingSpan)
		if completed%stepMessageEvery == 0 {
			u = u.WithMessage(fmt.Sprintf("Training step %d/%d", completed, total))
		}
		s.advance(ctx, jobID, u)
	})
	if err != nil {
		return nil, &StageError{Stage: StageTraining, Err: err}
	}

	s.advance(ctx, jobID, ledger.Update{}.WithProgress(ProgressSaving).WithMessage(MsgSaving))
	if err := session.Save(ctx, filepath.Join(workDir, artifact.WeightsFile)); err != nil {
		return nil, &StageError{Stage: StageSaving, Err: err}
	}

	modelID := artifact.IDForJob(jobID)
	err = s.store.Put(ctx, artifact.Metadata{
		ModelID:      modelID,
		Name:         req.Config.ModelName,
		TrainingTime: time.Now().UTC(),
		Config:       req.Config,
	}, workDir)
	if err != nil {
		return nil, &StageError{Stage: StagePublishing, Err: err}
	}

	meta, err := s.store.Get(ctx, modelID)
	if err != nil {
		s.unpublish(ctx, jobID, modelID)
		return nil, &StageError{Stage: StagePublishing, Err: err}
	}

	return &meta, nil
}

func (s *Supervisor) advance(ctx context.Context, jobID string, u ledger.Update) {
	if _, err := s.ledger.Update(jobID, u); err != nil {
		logger.Logger.WarnContext(ctx, "failed to update ledger", "jobID", jobID, "error", err)
	}
}

func (s *Supervisor) fail(ctx context.Context, jobID string, cause error) ledger.Snapshot {
	logger.Logger.ErrorContext(ctx, "training job failed", "jobID", jobID, "error", cause)

	snapshot, err := s.ledger.Update(jobID, ledger.Update{}.
		WithState(ledger.StateFailed).
		WithMessage("Training failed: "+failureReason(cause)))
	if err != nil {
		logger.Logger.ErrorContext(ctx, "failed to mark job failed", "jobID", jobID, "error", err)
		snapshot, _ = s.ledger.Get(jobID)
	}

	return snapshot
}

// unpublish removes a model whose job did not end as completed, so the model
// list never shows weights for a failed job.
func (s *Supervisor) unpublish(ctx context.Context, jobID string, modelID string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Delete(ctx, modelID); err != nil && !errors.Is(err, artifact.ErrNotFound) {
		logger.Logger.ErrorContext(ctx, "orphaned model left in store",
			"jobID", jobID, "modelID", modelID, "error", err)
	}
}

// failureReason is the client-facing cause of a failed job. Only fixed strings
// and intake's filename-only text are returned; backend output stays in the logs.
func failureReason(err error) string {
	var (
		imageErr *intake.ImageError
		stageErr *StageError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return "server shutting down"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, artifact.ErrExists):
		return "model already exists"
	case errors.As(err, &imageErr):
		return imageErr.Error()
	case errors.As(err, &stageErr):
		return "training backend error during " + stageErr.Stage
	default:
		return "internal error"
	}
}

func (s *Supervisor) notifySubmitted(ctx context.Context, jobID string, cfg types.TrainingConfig) {
	for _, o := range s.observers {
		func() {
			defer s.recoverObserver(ctx, jobID)
			o.JobSubmitted(ctx, jobID, cfg)
		}()
	}
}

func (s *Supervisor) notifyFinished(ctx context.Context, result Result) {
	if len(s.observers) == 0 {
		return
	}

	// observers run past shutdown so the outcome is still recorded
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.observerTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, o := range s.observers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.recoverObserver(ctx, result.JobID)
			o.JobFinished(ctx, result)
		}()
	}
	wg.Wait()
}

func (s *Supervisor) recoverObserver(ctx context.Context, jobID string) {
	if r := recover(); r != nil {
		logger.Logger.ErrorContext(ctx, "job observer panicked", "jobID", jobID, "panic", r)
	}
}
