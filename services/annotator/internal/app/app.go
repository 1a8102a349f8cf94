package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"photovault/internal/util"
	"photovault/pkg/annotate"
	"photovault/pkg/domain"
	"photovault/pkg/queue"
	"photovault/pkg/remote"
	"photovault/pkg/vision"
)

// PhotoSource loads the photo a job refers to.
type PhotoSource interface {
	remote.Merger
	GetPhoto(ctx context.Context, id string) (domain.Photo, error)
}

// Config holds runtime configuration.
type Config struct {
	Remote PhotoSource
	Tools  vision.Invoker

	RedisAddr              string
	RedisPassword          string
	RemotePrefix           string
	QueueStream            string
	QueueGroup             string
	QueueConcurrency       int
	QueueMaxRetries        int
	QueueRetryDelaySeconds int
	VisionBaseURL          string
	VisionAPIKey           string
}

// App runs queued annotation jobs through the annotation pipeline. Retries
// belong to the queue; the pipeline itself never retries.
type App struct {
	remote      PhotoSource
	pipeline    *annotate.Pipeline
	queue       *queue.RedisJobQueue
	concurrency int
}

// New constructs the annotator. Workers start with Start.
func New(cfg Config) (*App, error) {
	var err error
	records := cfg.Remote
	if records == nil {
		records, err = remote.NewRedisRecords(cfg.RedisAddr, cfg.RedisPassword, cfg.RemotePrefix)
		if err != nil {
			return nil, fmt.Errorf("init remote records: %w", err)
		}
	}
	tools := cfg.Tools
	if tools == nil {
		tools, err = vision.NewClient(cfg.VisionBaseURL, cfg.VisionAPIKey)
		if err != nil {
			return nil, fmt.Errorf("init vision client: %w", err)
		}
	}
	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.QueueStream,
		Group:      cfg.QueueGroup,
		Consumer:   util.ConsumerName("annotator"),
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init annotation queue: %w", err)
	}
	return &App{
		remote:      records,
		pipeline:    annotate.NewPipeline(tools, records),
		queue:       q,
		concurrency: cfg.QueueConcurrency,
	}, nil
}

// Start launches queue consumers until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	a.queue.Start(ctx, a.concurrency, a.process)
}

// GetJob reports the status of a queued job.
func (a *App) GetJob(ctx context.Context, id string) (queue.JobStatus, bool, error) {
	return a.queue.GetJob(ctx, id)
}

func (a *App) process(ctx context.Context, job queue.JobStatus) error {
	logger := util.LoggerFromContext(ctx).With("job_id", job.ID, "photo_id", job.PhotoID, "kind", job.Kind, "attempt", job.Attempts)
	photo, err := a.remote.GetPhoto(ctx, job.PhotoID)
	if err != nil {
		logger.Warn("load photo failed", "err", err)
		return classify(err)
	}
	switch job.Kind {
	case queue.KindEnhance:
		res, err := a.pipeline.Enhance(ctx, photo)
		if err != nil {
			logger.Warn("enhance failed", "err", err)
			return classify(err)
		}
		logger.Info("photo enhanced", "enhanced_url", res.EnhancedURL)
	case queue.KindAutoTag:
		res, err := a.pipeline.AutoSortAndTag(ctx, photo)
		if err != nil {
			logger.Warn("auto tag failed", "err", err)
			return classify(err)
		}
		logger.Info("photo tagged", "tags", len(res.AITags), "faces", res.Faces)
	default:
		return queue.Permanent(fmt.Errorf("%w: %q", queue.ErrUnknownKind, job.Kind))
	}
	return nil
}

// classify marks failures that another attempt cannot fix.
func classify(err error) error {
	var (
		missing    *domain.NotFoundError
		validation *domain.ValidationError
	)
	if errors.As(err, &missing) || errors.As(err, &validation) {
		return queue.Permanent(err)
	}
	return err
}
