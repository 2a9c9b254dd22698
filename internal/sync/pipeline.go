package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultRunTimeout bounds a single pipeline run
	DefaultRunTimeout = 5 * time.Minute

	// DefaultWorkers is the per-message fan-out
	DefaultWorkers = 4
)

// RecordStatus is the per-record outcome inside a run
type RecordStatus string

const (
	RecordInserted RecordStatus = "inserted"
	RecordSkipped  RecordStatus = "skipped"
	RecordFailed   RecordStatus = "failed"
)

// RecordResult describes what happened to one fetched message
type RecordResult struct {
	Index     int
	MessageID string
	Status    RecordStatus
	Err       error
}

// Report summarizes a pipeline run. Fetched is the count reported to callers;
// the other counters describe what was actually stored.
type Report struct {
	RunID      string
	Window     FetchWindow
	Fetched    int
	Inserted   int
	Skipped    int
	Failed     int
	Results    []RecordResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// PipelineConfig tunes a Pipeline
type PipelineConfig struct {
	Workers    int
	RunTimeout time.Duration
	Logger     logrus.FieldLogger
}

// Pipeline fetches the current window and stores every message not yet stored
type Pipeline struct {
	creds   CredentialProvider
	fetcher MailFetcher
	windows *WindowSelector
	writer  *StoreWriter
	workers int
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewPipeline wires a pipeline from its collaborators
func NewPipeline(creds CredentialProvider, fetcher MailFetcher, windows *WindowSelector, writer *StoreWriter, cfg PipelineConfig) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Pipeline{
		creds:   creds,
		fetcher: fetcher,
		windows: windows,
		writer:  writer,
		workers: cfg.Workers,
		timeout: cfg.RunTimeout,
		log:     cfg.Logger.WithField("component", "pipeline"),
	}
}

// Run performs one retrieval cycle. Credential and fetch failures abort the run with a
// RetrievalError; per-message failures are only recorded in the report.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	report := Report{RunID: uuid.NewString(), StartedAt: time.Now()}
	log := p.log.WithField("run_id", report.RunID)

	token, err := p.creds.Acquire(ctx)
	if err != nil {
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			err = &AuthError{Err: err}
		}
		log.WithError(err).Error("credential acquisition failed")
		return report, &RetrievalError{Err: err}
	}

	report.Window = p.windows.CurrentWindow()

	raws, err := p.fetcher.Fetch(ctx, report.Window, token)
	if err != nil {
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			err = &FetchError{Err: err}
		}
		log.WithError(err).Error("fetch failed")
		return report, &RetrievalError{Err: err}
	}

	report.Fetched = len(raws)
	report.Results = make([]RecordResult, len(raws))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, raw := range raws {
		g.Go(func() error {
			report.Results[i] = p.process(ctx, log, i, raw)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range report.Results {
		switch res.Status {
		case RecordInserted:
			report.Inserted++
		case RecordSkipped:
			report.Skipped++
		case RecordFailed:
			report.Failed++
		}
	}
	report.FinishedAt = time.Now()

	log.WithFields(logrus.Fields{
		"fetched":  report.Fetched,
		"inserted": report.Inserted,
		"skipped":  report.Skipped,
		"failed":   report.Failed,
		"duration": report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("retrieval run complete")

	return report, nil
}

func (p *Pipeline) process(ctx context.Context, log logrus.FieldLogger, index int, raw RawMessage) (res RecordResult) {
	res = RecordResult{Index: index}
	if id, ok := raw["id"].(string); ok {
		res.MessageID = id
	}

	// workers run outside the scheduler's recover
	defer func() {
		if r := recover(); r != nil {
			res.Status, res.Err = RecordFailed, fmt.Errorf("panic processing message: %v", r)
			log.WithError(res.Err).WithFields(logrus.Fields{"index": index, "message_id": res.MessageID}).
				Error("recovered from panic while processing message")
		}
	}()

	msg, err := Normalize(raw)
	if err != nil {
		res.Status, res.Err = RecordFailed, err
		log.WithError(err).WithFields(logrus.Fields{"index": index, "message_id": res.MessageID}).
			Warn("skipping message that failed normalization")
		return res
	}

	outcome, err := p.writer.WriteIfAbsent(ctx, msg)
	if err != nil {
		res.Status, res.Err = RecordFailed, err
		log.WithError(err).WithField("message_id", msg.ID).Error("failed to store message")
		return res
	}

	if outcome == Inserted {
		res.Status = RecordInserted
	} else {
		res.Status = RecordSkipped
	}
	return res
}
