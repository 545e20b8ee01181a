package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/MimeLyc/batch-transcriber/internal/dispatch"
	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"github.com/MimeLyc/batch-transcriber/internal/subtitle"
	"github.com/MimeLyc/batch-transcriber/internal/transcribe"
	"github.com/MimeLyc/batch-transcriber/pkg/file"
	"github.com/MimeLyc/batch-transcriber/pkg/log"
)

// Executor runs one dispatched job to a terminal state. The engine is a
// process-wide handle shared across jobs.
type Executor struct {
	lifecycle *jobs.Lifecycle
	store     jobs.Store
	engine    transcribe.Engine
	timeout   time.Duration
}

type ExecutorOption func(*Executor)

// WithJobTimeout bounds each transcription call. Zero means no limit.
func WithJobTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

func NewExecutor(lifecycle *jobs.Lifecycle, store jobs.Store, engine transcribe.Engine, opts ...ExecutorOption) *Executor {
	e := &Executor{
		lifecycle: lifecycle,
		store:     store,
		engine:    engine,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run processes msg. The returned error reports only lifecycle bookkeeping
// failures; transcription and export failures end in a failed job.
func (e *Executor) Run(ctx context.Context, msg dispatch.Message) error {
	logger := log.WithJob(msg.BatchID, msg.JobID)
	start := time.Now()
	startedAt := e.lifecycle.Now()

	if _, err := e.lifecycle.Transition(ctx, msg.BatchID, msg.JobID, jobs.Update{
		Status:    jobs.StatusProcessing,
		StartedAt: &startedAt,
	}); err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	logger.Info("job processing")

	var (
		result *transcribe.Result
		files  map[jobs.Format]string
	)
	runErr := jobs.SafeExecute(func() error {
		var err error
		result, err = e.transcribe(ctx, msg)
		if err != nil {
			return err
		}
		files, err = e.export(msg, result)
		return err
	})
	elapsed := roundMillis(time.Since(start).Seconds())
	info := e.engine.Info()
	finishedAt := e.lifecycle.Now()

	if runErr != nil {
		kind := jobs.KindOf(runErr)
		logger.WithField("error_kind", kind).Errorf("job failed: %v", runErr)
		e.writeErrorArtifact(msg, runErr.Error())
		_, err := e.lifecycle.Transition(ctx, msg.BatchID, msg.JobID, jobs.Update{
			Status:             jobs.StatusFailed,
			FinishedAt:         &finishedAt,
			ProcessTimeSeconds: &elapsed,
			Error:              runErr.Error(),
			ErrorKind:          kind,
			Engine:             &info,
		})
		if err != nil {
			return fmt.Errorf("mark job failed: %w", err)
		}
		return nil
	}

	duration := result.Duration
	if _, err := e.lifecycle.Transition(ctx, msg.BatchID, msg.JobID, jobs.Update{
		Status:               jobs.StatusDone,
		FinishedAt:           &finishedAt,
		ProcessTimeSeconds:   &elapsed,
		AudioDurationSeconds: &duration,
		DetectedLanguage:     result.Language,
		ResultFiles:          files,
		Engine:               &info,
	}); err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	logger.WithField("process_time_seconds", elapsed).Info("job done")
	return nil
}

func (e *Executor) transcribe(ctx context.Context, msg dispatch.Message) (*transcribe.Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	result, err := e.engine.Transcribe(ctx, transcribe.Request{
		AudioPath: msg.InputPath,
		Language:  msg.Params.Language,
		BeamSize:  msg.Params.BeamSize,
		VADFilter: msg.Params.VADFilter,
	})
	if err != nil {
		var classified *jobs.Error
		if !errors.As(err, &classified) {
			return nil, jobs.Wrap(err, jobs.KindEngine, "transcription failed")
		}
		return nil, err
	}
	if result == nil {
		return nil, jobs.NewError(jobs.KindEngine, "engine returned no result")
	}
	if result.Language == "" {
		result.Language = subtitle.DetectLanguage(result.Text)
	}
	return result, nil
}

// export writes every requested artifact and returns their locations.
func (e *Executor) export(msg dispatch.Message, result *transcribe.Result) (map[jobs.Format]string, error) {
	dir := e.store.JobDir(msg.BatchID, msg.JobID)
	files := make(map[jobs.Format]string, len(msg.Params.ExportFormats))
	for _, f := range msg.Params.ExportFormats {
		data, err := render(f, result)
		if err != nil {
			return nil, jobs.Wrap(err, jobs.KindExport, fmt.Sprintf("render %s", f))
		}
		path := filepath.Join(dir, f.FileName())
		if err := file.WriteAtomic(path, data); err != nil {
			return nil, jobs.Wrap(err, jobs.KindExport, fmt.Sprintf("write %s", f))
		}
		files[f] = path
	}
	return files, nil
}

func render(f jobs.Format, result *transcribe.Result) ([]byte, error) {
	switch f {
	case jobs.FormatJSON:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		segments := result.Segments
		if segments == nil {
			segments = []subtitle.Segment{}
		}
		out := *result
		out.Segments = segments
		if err := enc.Encode(out); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case jobs.FormatTXT:
		return []byte(result.Text), nil
	case jobs.FormatSRT:
		return []byte(subtitle.ToSRT(result.Segments)), nil
	case jobs.FormatVTT:
		return []byte(subtitle.ToVTT(result.Segments)), nil
	}
	return nil, fmt.Errorf("unsupported format %q", f)
}

func (e *Executor) writeErrorArtifact(msg dispatch.Message, text string) {
	path := filepath.Join(e.store.JobDir(msg.BatchID, msg.JobID), jobs.ErrorArtifactName)
	if err := file.WriteAtomic(path, []byte(text)); err != nil {
		log.WithJob(msg.BatchID, msg.JobID).Errorf("write error artifact: %v", err)
	}
}

func roundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}
