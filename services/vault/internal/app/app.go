package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"photovault/internal/util"
	"photovault/pkg/annotate"
	"photovault/pkg/backup"
	"photovault/pkg/domain"
	"photovault/pkg/queue"
	"photovault/pkg/remote"
	"photovault/pkg/search"
	"photovault/pkg/storage"
	"photovault/pkg/store"
	"photovault/pkg/vision"
)

// RemoteRecords is the slice of the remote document store the vault needs.
type RemoteRecords interface {
	remote.Merger
	GetPhoto(ctx context.Context, id string) (domain.Photo, error)
	ListPhotos(ctx context.Context) ([]domain.Photo, error)
	ListAlbums(ctx context.Context) ([]domain.Album, error)
	Delete(ctx context.Context, c domain.Collection, id string) error
}

// JobQueue accepts annotation jobs for the annotator worker.
type JobQueue interface {
	Enqueue(ctx context.Context, photoID, kind string) (queue.JobStatus, error)
	GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error)
}

// Config holds runtime configuration for the vault. Prebuilt dependencies
// take precedence over the connection settings.
type Config struct {
	Store   store.Store
	Remote  RemoteRecords
	Objects storage.ObjectStore
	Tools   vision.Invoker
	Queue   JobQueue

	StoreDriver   string
	SQLitePath    string
	DatabaseURL   string
	AdminSeed     store.AdminSeed
	RedisAddr     string
	RedisPassword string
	RemotePrefix  string
	QueueStream   string
	ObjectDriver  string
	Minio         storage.MinioConfig
	VisionBaseURL string
	VisionAPIKey  string
	StageTTL      time.Duration
}

// App wires the local store, backup codec, annotation pipeline and remote
// collaborators behind the vault API.
type App struct {
	store    store.Store
	codec    *backup.Codec
	stager   *backup.Stager
	archiver *backup.Archiver
	pipeline *annotate.Pipeline
	remote   RemoteRecords
	objects  storage.ObjectStore
	queue    JobQueue
	now      func() time.Time

	// adminMu serializes reset, import confirmation and sync so their
	// clear-then-write sequences never interleave.
	adminMu sync.Mutex
}

// New constructs the application.
func New(ctx context.Context, cfg Config) (*App, error) {
	var err error
	dataStore := cfg.Store
	if dataStore == nil {
		dataStore, err = openStore(cfg)
		if err != nil {
			return nil, err
		}
	}
	records := cfg.Remote
	if records == nil {
		records, err = remote.NewRedisRecords(cfg.RedisAddr, cfg.RedisPassword, cfg.RemotePrefix)
		if err != nil {
			return nil, fmt.Errorf("init remote records: %w", err)
		}
	}
	objects := cfg.Objects
	if objects == nil {
		objects, err = openObjects(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	tools := cfg.Tools
	if tools == nil {
		tools, err = vision.NewClient(cfg.VisionBaseURL, cfg.VisionAPIKey)
		if err != nil {
			return nil, fmt.Errorf("init vision client: %w", err)
		}
	}
	jobs := cfg.Queue
	if jobs == nil && strings.TrimSpace(cfg.RedisAddr) != "" {
		jobs, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.QueueStream,
		})
		if err != nil {
			return nil, fmt.Errorf("init annotation queue: %w", err)
		}
	}

	codec := backup.NewCodec(dataStore)
	return &App{
		store:    dataStore,
		codec:    codec,
		stager:   backup.NewStager(codec, cfg.StageTTL),
		archiver: backup.NewArchiver(codec, objects),
		pipeline: annotate.NewPipeline(tools, records),
		remote:   records,
		objects:  objects,
		queue:    jobs,
		now:      time.Now,
	}, nil
}

func openStore(cfg Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return store.NewMemoryStore(cfg.AdminSeed), nil
	case "postgres":
		s, err := store.NewGormStore(cfg.DatabaseURL, cfg.AdminSeed)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return s, nil
	case "sqlite", "":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		s, err := store.NewSQLiteStore(cfg.SQLitePath, cfg.AdminSeed)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func openObjects(ctx context.Context, cfg Config) (storage.ObjectStore, error) {
	if cfg.ObjectDriver == "memory" {
		return storage.NewMemoryObjects(), nil
	}
	objects, err := storage.NewMinioStore(ctx, cfg.Minio)
	if err != nil {
		return nil, fmt.Errorf("init object store: %w", err)
	}
	return objects, nil
}

// Init makes sure the administrator exists before serving.
func (a *App) Init(ctx context.Context) error {
	return a.store.EnsureAdminExists(ctx)
}

// Dump returns every local record with per-collection counts.
func (a *App) Dump(ctx context.Context) (store.Dump, error) {
	return store.LogStore(ctx, a.store, util.LoggerFromContext(ctx))
}

// Reset wipes the local store back to the seeded administrator.
func (a *App) Reset(ctx context.Context) error {
	a.adminMu.Lock()
	defer a.adminMu.Unlock()
	if err := a.store.ResetDB(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	util.LoggerFromContext(ctx).Info("local store reset")
	return nil
}

// Export encodes the current snapshot and returns it with its download filename.
func (a *App) Export(ctx context.Context) ([]byte, string, error) {
	snapshot, err := a.codec.Export(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("export snapshot: %w", err)
	}
	data, err := backup.Encode(snapshot)
	if err != nil {
		return nil, "", fmt.Errorf("encode snapshot: %w", err)
	}
	return data, backup.Filename(a.now()), nil
}

// ArchiveResult locates an uploaded backup.
type ArchiveResult struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Archive uploads the current snapshot to object storage.
func (a *App) Archive(ctx context.Context) (ArchiveResult, error) {
	key, err := a.archiver.Archive(ctx, a.now())
	if err != nil {
		return ArchiveResult{}, err
	}
	res := ArchiveResult{Key: key}
	url, err := a.objects.PresignGet(ctx, key, 15*time.Minute)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("presign archived backup", "key", key, "err", err)
	} else {
		res.URL = url
	}
	return res, nil
}

// StageImport validates raw backup text and holds it for confirmation.
func (a *App) StageImport(raw []byte) (backup.StagedImport, error) {
	return a.stager.Stage(raw)
}

// ConfirmImport applies a staged snapshot. Users in the snapshot are dropped.
func (a *App) ConfirmImport(ctx context.Context, token string) (backup.StagedImport, error) {
	a.adminMu.Lock()
	defer a.adminMu.Unlock()
	staged, err := a.stager.Confirm(ctx, token)
	if err != nil {
		return backup.StagedImport{}, err
	}
	util.LoggerFromContext(ctx).Info("backup imported",
		"albums", staged.Counts[domain.CollectionAlbums],
		"photos", staged.Counts[domain.CollectionPhotos],
		"users_dropped", staged.Counts[domain.CollectionUsers],
	)
	return staged, nil
}

// CancelImport drops a staged snapshot.
func (a *App) CancelImport(token string) error {
	return a.stager.Cancel(token)
}

// SyncResult counts what a sync wrote locally.
type SyncResult struct {
	Albums int `json:"albums"`
	Photos int `json:"photos"`
}

// Sync replaces the local albums and photos with the remote ones. Remote
// reads happen before anything local is cleared.
func (a *App) Sync(ctx context.Context) (SyncResult, error) {
	albums, err := a.remote.ListAlbums(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("list remote albums: %w", err)
	}
	photos, err := a.remote.ListPhotos(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("list remote photos: %w", err)
	}

	a.adminMu.Lock()
	defer a.adminMu.Unlock()
	for _, c := range []domain.Collection{domain.CollectionAlbums, domain.CollectionPhotos} {
		if err := a.store.Clear(ctx, c); err != nil {
			return SyncResult{}, fmt.Errorf("clear local %s: %w", c, err)
		}
	}
	if err := a.store.BulkPut(ctx, domain.CollectionAlbums, store.ToRecords(albums)); err != nil {
		return SyncResult{}, fmt.Errorf("write local albums: %w", err)
	}
	if err := a.store.BulkPut(ctx, domain.CollectionPhotos, store.ToRecords(photos)); err != nil {
		return SyncResult{}, fmt.Errorf("write local photos: %w", err)
	}
	util.LoggerFromContext(ctx).Info("local mirror synced", "albums", len(albums), "photos", len(photos))
	return SyncResult{Albums: len(albums), Photos: len(photos)}, nil
}

// SearchPhotos filters local photos by name or tag.
func (a *App) SearchPhotos(ctx context.Context, query string) ([]domain.Photo, error) {
	photos, err := store.Photos(ctx, a.store)
	if err != nil {
		return nil, fmt.Errorf("load photos: %w", err)
	}
	return search.Search(photos, query), nil
}

// Enhance runs the enhance tool on the remote photo and merges the result.
func (a *App) Enhance(ctx context.Context, photoID string) (annotate.EnhanceResult, error) {
	photo, err := a.remote.GetPhoto(ctx, photoID)
	if err != nil {
		return annotate.EnhanceResult{}, err
	}
	return a.pipeline.Enhance(ctx, photo)
}

// AutoTag runs face detection and tag extraction on the remote photo.
func (a *App) AutoTag(ctx context.Context, photoID string) (annotate.TagResult, error) {
	photo, err := a.remote.GetPhoto(ctx, photoID)
	if err != nil {
		return annotate.TagResult{}, err
	}
	return a.pipeline.AutoSortAndTag(ctx, photo)
}

// EnqueueAnnotation hands the annotation to the annotator worker. The photo
// must exist remotely at enqueue time.
func (a *App) EnqueueAnnotation(ctx context.Context, photoID, kind string) (queue.JobStatus, error) {
	if a.queue == nil {
		return queue.JobStatus{}, ErrQueueUnavailable
	}
	if kind != queue.KindEnhance && kind != queue.KindAutoTag {
		return queue.JobStatus{}, fmt.Errorf("%w: %q", ErrUnknownAnnotation, kind)
	}
	if _, err := a.remote.GetPhoto(ctx, photoID); err != nil {
		return queue.JobStatus{}, err
	}
	job, err := a.queue.Enqueue(ctx, photoID, kind)
	if err != nil {
		return queue.JobStatus{}, &domain.NetworkError{Op: "enqueue annotation", Err: err}
	}
	return job, nil
}

// GetJob reports the status of a queued annotation.
func (a *App) GetJob(ctx context.Context, jobID string) (queue.JobStatus, error) {
	if a.queue == nil {
		return queue.JobStatus{}, ErrQueueUnavailable
	}
	job, ok, err := a.queue.GetJob(ctx, jobID)
	if err != nil {
		return queue.JobStatus{}, &domain.NetworkError{Op: "get job", Err: err}
	}
	if !ok {
		return queue.JobStatus{}, &domain.NotFoundError{Collection: "jobs", ID: jobID}
	}
	return job, nil
}

// DeletePhoto removes the stored file first; the remote record and the local
// mirror entry are only deleted once the file is gone.
func (a *App) DeletePhoto(ctx context.Context, photoID string) error {
	photo, err := a.remote.GetPhoto(ctx, photoID)
	if err != nil {
		return err
	}
	key := storage.PhotoKey(photo)
	if err := a.objects.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete photo file %s: %w", key, err)
	}
	if err := a.remote.Delete(ctx, domain.CollectionPhotos, photoID); err != nil {
		var nf *domain.NotFoundError
		if !errors.As(err, &nf) {
			return fmt.Errorf("delete remote photo %s: %w", photoID, err)
		}
	}
	if err := a.store.Delete(ctx, domain.CollectionPhotos, photoID); err != nil {
		return fmt.Errorf("delete local photo %s: %w", photoID, err)
	}
	util.LoggerFromContext(ctx).Info("photo deleted", "photo_id", photoID, "object_key", key)
	return nil
}
