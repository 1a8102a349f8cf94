package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"photovault/pkg/domain"
)

// ErrUnknownCollection is returned for a collection name outside users/albums/photos.
var ErrUnknownCollection = errors.New("unknown collection")

// AdminID is the fixed id of the synthesized administrator, so repeated or
// racing resets upsert the same record.
const AdminID = "admin"

// Store holds the local mirror of user, album and photo records.
type Store interface {
	GetAll(ctx context.Context, c domain.Collection) ([]domain.Record, error)
	// BulkPut upserts every record by id. Records are written one at a time;
	// failures are collected into a *BulkPutError and do not stop the batch.
	BulkPut(ctx context.Context, c domain.Collection, records []domain.Record) error
	Clear(ctx context.Context, c domain.Collection) error
	// Delete removes one record by id. A missing id is not an error.
	Delete(ctx context.Context, c domain.Collection, id string) error
	// ResetDB clears all collections and then reseeds the administrator.
	ResetDB(ctx context.Context) error
	EnsureAdminExists(ctx context.Context) error
}

// AdminSeed describes the administrator inserted by EnsureAdminExists.
type AdminSeed struct {
	Email string
	Name  string
}

func (s AdminSeed) withDefaults() AdminSeed {
	if strings.TrimSpace(s.Email) == "" {
		s.Email = "admin@photovault.local"
	}
	if strings.TrimSpace(s.Name) == "" {
		s.Name = "Administrator"
	}
	return s
}

func (s AdminSeed) user(now time.Time) domain.User {
	s = s.withDefaults()
	return domain.User{
		ID:        AdminID,
		Email:     s.Email,
		Name:      s.Name,
		Role:      domain.RoleAdmin,
		CreatedAt: now.UTC(),
	}
}

// RecordError describes one failed record of a BulkPut.
type RecordError struct {
	Index int
	ID    string
	Err   error
}

// BulkPutError lists the records a BulkPut could not write. The others were written.
type BulkPutError struct {
	Collection domain.Collection
	Failures   []RecordError
}

func (e *BulkPutError) Error() string {
	if len(e.Failures) == 1 {
		f := e.Failures[0]
		return fmt.Sprintf("bulk put %s: record %d (%q): %v", e.Collection, f.Index, f.ID, f.Err)
	}
	return fmt.Sprintf("bulk put %s: %d records failed, first: %v", e.Collection, len(e.Failures), e.Failures[0].Err)
}

// Unwrap exposes every per-record error to errors.Is/As.
func (e *BulkPutError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// collectionStore is the per-backend part that resetDB and ensureAdmin build on.
type collectionStore interface {
	GetAll(ctx context.Context, c domain.Collection) ([]domain.Record, error)
	BulkPut(ctx context.Context, c domain.Collection, records []domain.Record) error
	Clear(ctx context.Context, c domain.Collection) error
}

func resetDB(ctx context.Context, s collectionStore, seed AdminSeed) error {
	for _, c := range domain.Collections {
		if err := s.Clear(ctx, c); err != nil {
			return fmt.Errorf("clear %s: %w", c, err)
		}
	}
	return ensureAdmin(ctx, s, seed)
}

func ensureAdmin(ctx context.Context, s collectionStore, seed AdminSeed) error {
	users, err := s.GetAll(ctx, domain.CollectionUsers)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, rec := range users {
		if u, ok := rec.(domain.User); ok && u.Role == domain.RoleAdmin {
			return nil
		}
	}
	admin := seed.user(time.Now())
	if err := s.BulkPut(ctx, domain.CollectionUsers, []domain.Record{admin}); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	slog.Info("seeded administrator", "id", admin.ID, "email", admin.Email)
	return nil
}

// checkRecord validates that rec may be stored in collection c.
func checkRecord(c domain.Collection, rec domain.Record) error {
	if rec == nil {
		return errors.New("nil record")
	}
	if strings.TrimSpace(rec.RecordID()) == "" {
		return errors.New("record id required")
	}
	var ok bool
	switch c {
	case domain.CollectionUsers:
		_, ok = rec.(domain.User)
	case domain.CollectionAlbums:
		_, ok = rec.(domain.Album)
	case domain.CollectionPhotos:
		_, ok = rec.(domain.Photo)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	if !ok {
		return fmt.Errorf("record of type %T does not belong in %s", rec, c)
	}
	return nil
}

func validCollection(c domain.Collection) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	return nil
}

// ToRecords converts typed records for BulkPut.
func ToRecords[T domain.Record](items []T) []domain.Record {
	out := make([]domain.Record, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out
}

func fromRecords[T domain.Record](recs []domain.Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		item, ok := rec.(T)
		if !ok {
			return nil, fmt.Errorf("unexpected record type %T", rec)
		}
		out = append(out, item)
	}
	return out, nil
}

// Users returns every user record.
func Users(ctx context.Context, s Store) ([]domain.User, error) {
	recs, err := s.GetAll(ctx, domain.CollectionUsers)
	if err != nil {
		return nil, err
	}
	return fromRecords[domain.User](recs)
}

// Albums returns every album record.
func Albums(ctx context.Context, s Store) ([]domain.Album, error) {
	recs, err := s.GetAll(ctx, domain.CollectionAlbums)
	if err != nil {
		return nil, err
	}
	return fromRecords[domain.Album](recs)
}

// Photos returns every photo record.
func Photos(ctx context.Context, s Store) ([]domain.Photo, error) {
	recs, err := s.GetAll(ctx, domain.CollectionPhotos)
	if err != nil {
		return nil, err
	}
	return fromRecords[domain.Photo](recs)
}

// Dump is the diagnostic view returned by LogStore.
type Dump struct {
	Counts map[domain.Collection]int `json:"counts"`
	Users  []domain.User             `json:"users"`
	Albums []domain.Album            `json:"albums"`
	Photos []domain.Photo            `json:"photos"`
}

// LogStore reads every collection, logs the sizes and returns the contents.
func LogStore(ctx context.Context, s Store, logger *slog.Logger) (Dump, error) {
	if logger == nil {
		logger = slog.Default()
	}
	users, err := Users(ctx, s)
	if err != nil {
		return Dump{}, err
	}
	albums, err := Albums(ctx, s)
	if err != nil {
		return Dump{}, err
	}
	photos, err := Photos(ctx, s)
	if err != nil {
		return Dump{}, err
	}
	d := Dump{
		Counts: map[domain.Collection]int{
			domain.CollectionUsers:  len(users),
			domain.CollectionAlbums: len(albums),
			domain.CollectionPhotos: len(photos),
		},
		Users:  users,
		Albums: albums,
		Photos: photos,
	}
	logger.InfoContext(ctx, "local store",
		"users", len(users),
		"albums", len(albums),
		"photos", len(photos),
	)
	return d, nil
}
