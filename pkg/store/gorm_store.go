package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"photovault/pkg/domain"
)

const migrateLockID int64 = 51427301

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db   *gorm.DB
	seed AdminSeed
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, seed AdminSeed) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &AlbumModel{}, &PhotoModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, seed: seed}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// GetAll returns records ordered by creation time.
func (s *GormStore) GetAll(ctx context.Context, c domain.Collection) ([]domain.Record, error) {
	db := s.db.WithContext(ctx)
	switch c {
	case domain.CollectionUsers:
		var models []UserModel
		if err := db.Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
			return nil, err
		}
		res := make([]domain.Record, 0, len(models))
		for _, m := range models {
			res = append(res, userFromModel(m))
		}
		return res, nil
	case domain.CollectionAlbums:
		var models []AlbumModel
		if err := db.Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
			return nil, err
		}
		res := make([]domain.Record, 0, len(models))
		for _, m := range models {
			res = append(res, albumFromModel(m))
		}
		return res, nil
	case domain.CollectionPhotos:
		var models []PhotoModel
		if err := db.Order("uploaded_at ASC, id ASC").Find(&models).Error; err != nil {
			return nil, err
		}
		res := make([]domain.Record, 0, len(models))
		for _, m := range models {
			p, err := photoFromModel(m)
			if err != nil {
				return nil, err
			}
			res = append(res, p)
		}
		return res, nil
	}
	return nil, validCollection(c)
}

// BulkPut upserts each record with its own statement; there is no batch transaction.
func (s *GormStore) BulkPut(ctx context.Context, c domain.Collection, records []domain.Record) error {
	if err := validCollection(c); err != nil {
		return err
	}
	db := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	})
	var failures []RecordError
	for i, rec := range records {
		err := checkRecord(c, rec)
		if err == nil {
			switch r := rec.(type) {
			case domain.User:
				model := userToModel(r)
				err = db.Create(&model).Error
			case domain.Album:
				model := albumToModel(r)
				err = db.Create(&model).Error
			case domain.Photo:
				var model PhotoModel
				if model, err = photoToModel(r); err == nil {
					err = db.Create(&model).Error
				}
			}
		}
		if err != nil {
			failures = append(failures, RecordError{Index: i, ID: recordID(rec), Err: err})
		}
	}
	if len(failures) > 0 {
		return &BulkPutError{Collection: c, Failures: failures}
	}
	return nil
}

// Clear deletes every row of the collection.
func (s *GormStore) Clear(ctx context.Context, c domain.Collection) error {
	db := s.db.WithContext(ctx).Where("1 = 1")
	switch c {
	case domain.CollectionUsers:
		return db.Delete(&UserModel{}).Error
	case domain.CollectionAlbums:
		return db.Delete(&AlbumModel{}).Error
	case domain.CollectionPhotos:
		return db.Delete(&PhotoModel{}).Error
	}
	return validCollection(c)
}

// Delete removes the row with the given id.
func (s *GormStore) Delete(ctx context.Context, c domain.Collection, id string) error {
	db := s.db.WithContext(ctx).Where("id = ?", id)
	switch c {
	case domain.CollectionUsers:
		return db.Delete(&UserModel{}).Error
	case domain.CollectionAlbums:
		return db.Delete(&AlbumModel{}).Error
	case domain.CollectionPhotos:
		return db.Delete(&PhotoModel{}).Error
	}
	return validCollection(c)
}

// ResetDB clears all collections and reseeds the administrator.
func (s *GormStore) ResetDB(ctx context.Context) error {
	return resetDB(ctx, s, s.seed)
}

// EnsureAdminExists inserts the administrator when no admin user is present.
func (s *GormStore) EnsureAdminExists(ctx context.Context) error {
	return ensureAdmin(ctx, s, s.seed)
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:        m.ID,
		Email:     m.Email,
		Name:      m.Name,
		Role:      domain.UserRole(m.Role),
		CreatedAt: m.CreatedAt,
	}
}

func albumToModel(a domain.Album) AlbumModel {
	return AlbumModel{
		ID:        a.ID,
		Name:      a.Name,
		UserID:    a.UserID,
		CreatedAt: a.CreatedAt,
	}
}

func albumFromModel(m AlbumModel) domain.Album {
	return domain.Album{
		ID:        m.ID,
		Name:      m.Name,
		UserID:    m.UserID,
		CreatedAt: m.CreatedAt,
	}
}

func photoToModel(p domain.Photo) (PhotoModel, error) {
	p = p.Clone()
	model := PhotoModel{
		ID:          p.ID,
		AlbumID:     p.AlbumID,
		UserID:      p.UserID,
		Name:        p.Name,
		URL:         p.URL,
		UploadedAt:  p.UploadedAt,
		EnhancedURL: p.EnhancedURL,
		EnhancedAt:  p.EnhancedAt,
		Faces:       p.Faces,
	}
	if p.AITags != nil {
		raw, err := json.Marshal(p.AITags)
		if err != nil {
			return PhotoModel{}, fmt.Errorf("encode tags: %w", err)
		}
		model.AITags = raw
	}
	return model, nil
}

func photoFromModel(m PhotoModel) (domain.Photo, error) {
	p := domain.Photo{
		ID:          m.ID,
		AlbumID:     m.AlbumID,
		UserID:      m.UserID,
		Name:        m.Name,
		URL:         m.URL,
		UploadedAt:  m.UploadedAt,
		EnhancedURL: m.EnhancedURL,
		EnhancedAt:  m.EnhancedAt,
		Faces:       m.Faces,
	}
	if len(m.AITags) > 0 {
		if err := json.Unmarshal(m.AITags, &p.AITags); err != nil {
			return domain.Photo{}, fmt.Errorf("photo %s tags: %w", m.ID, err)
		}
	}
	return p, nil
}
