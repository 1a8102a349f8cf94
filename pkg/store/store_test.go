package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/datatypes"

	"photovault/pkg/domain"
)

func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"memory": func() Store {
			return NewMemoryStore(AdminSeed{})
		},
		"sqlite": func() Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "vault.db"), AdminSeed{})
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, factory())
		})
	}
}

func samplePhoto(id, name string) domain.Photo {
	album := "a1"
	faces := 2
	return domain.Photo{
		ID:         id,
		AlbumID:    &album,
		UserID:     "u1",
		Name:       name,
		URL:        "https://cdn.example.com/" + name,
		UploadedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		AITags:     []string{"beach", "sunset", "beach"},
		Faces:      &faces,
	}
}

func TestBulkPutUpsertsAndKeepsInsertionOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		recs := ToRecords([]domain.Photo{samplePhoto("p1", "one.jpg"), samplePhoto("p2", "two.jpg")})
		if err := s.BulkPut(ctx, domain.CollectionPhotos, recs); err != nil {
			t.Fatalf("bulk put: %v", err)
		}
		replaced := samplePhoto("p1", "renamed.jpg")
		replaced.AlbumID = nil
		replaced.AITags = nil
		replaced.Faces = nil
		if err := s.BulkPut(ctx, domain.CollectionPhotos, []domain.Record{replaced}); err != nil {
			t.Fatalf("replace: %v", err)
		}

		photos, err := Photos(ctx, s)
		if err != nil {
			t.Fatalf("photos: %v", err)
		}
		if len(photos) != 2 {
			t.Fatalf("expected 2 photos, got %d", len(photos))
		}
		if photos[0].ID != "p1" || photos[1].ID != "p2" {
			t.Fatalf("unexpected order: %s, %s", photos[0].ID, photos[1].ID)
		}
		if photos[0].Name != "renamed.jpg" || photos[0].AlbumID != nil || photos[0].AITags != nil || photos[0].Faces != nil {
			t.Fatalf("expected full replace, got %+v", photos[0])
		}
		got := photos[1]
		if got.AlbumID == nil || *got.AlbumID != "a1" || got.Faces == nil || *got.Faces != 2 {
			t.Fatalf("optional fields lost: %+v", got)
		}
		if len(got.AITags) != 3 || got.AITags[2] != "beach" {
			t.Fatalf("tags not preserved in order: %v", got.AITags)
		}
		if !got.UploadedAt.Equal(samplePhoto("p2", "two.jpg").UploadedAt) {
			t.Fatalf("uploadedAt mismatch: %v", got.UploadedAt)
		}
	})
}

func TestBulkPutPartialFailureKeepsGoodRecords(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		recs := []domain.Record{
			domain.Album{ID: "a1", Name: "Trips", UserID: "u1", CreatedAt: time.Now()},
			domain.Album{ID: "", Name: "no id"},
			domain.User{ID: "u2", Email: "wrong@collection"},
			domain.Album{ID: "a2", Name: "Family", UserID: "ghost", CreatedAt: time.Now()},
		}
		err := s.BulkPut(ctx, domain.CollectionAlbums, recs)
		var bulkErr *BulkPutError
		if !errors.As(err, &bulkErr) {
			t.Fatalf("expected BulkPutError, got %v", err)
		}
		if len(bulkErr.Failures) != 2 || bulkErr.Failures[0].Index != 1 || bulkErr.Failures[1].ID != "u2" {
			t.Fatalf("unexpected failures: %+v", bulkErr.Failures)
		}
		albums, err := Albums(ctx, s)
		if err != nil {
			t.Fatalf("albums: %v", err)
		}
		if len(albums) != 2 || albums[0].ID != "a1" || albums[1].ID != "a2" {
			t.Fatalf("expected good records written, got %+v", albums)
		}
	})
}

func TestUnknownCollection(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.GetAll(ctx, "tags"); !errors.Is(err, ErrUnknownCollection) {
			t.Fatalf("get all: expected ErrUnknownCollection, got %v", err)
		}
		if err := s.Clear(ctx, "tags"); !errors.Is(err, ErrUnknownCollection) {
			t.Fatalf("clear: expected ErrUnknownCollection, got %v", err)
		}
		if err := s.BulkPut(ctx, "tags", nil); !errors.Is(err, ErrUnknownCollection) {
			t.Fatalf("bulk put: expected ErrUnknownCollection, got %v", err)
		}
	})
}

func TestClearOnEmptyCollectionIsNoop(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		if err := s.Clear(context.Background(), domain.CollectionPhotos); err != nil {
			t.Fatalf("clear empty: %v", err)
		}
	})
}

func TestDeleteRemovesOneRecord(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		recs := ToRecords([]domain.Photo{
			samplePhoto("p1", "one.jpg"),
			samplePhoto("p2", "two.jpg"),
			samplePhoto("p3", "three.jpg"),
		})
		if err := s.BulkPut(ctx, domain.CollectionPhotos, recs); err != nil {
			t.Fatalf("bulk put: %v", err)
		}
		if err := s.Delete(ctx, domain.CollectionPhotos, "p2"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := s.Delete(ctx, domain.CollectionPhotos, "missing"); err != nil {
			t.Fatalf("delete missing: %v", err)
		}
		photos, err := Photos(ctx, s)
		if err != nil {
			t.Fatalf("photos: %v", err)
		}
		if len(photos) != 2 || photos[0].ID != "p1" || photos[1].ID != "p3" {
			t.Fatalf("unexpected photos after delete: %+v", photos)
		}
		if err := s.Delete(ctx, domain.Collection("videos"), "p1"); !errors.Is(err, ErrUnknownCollection) {
			t.Fatalf("expected ErrUnknownCollection, got %v", err)
		}
	})
}

func assertResetState(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	users, err := Users(ctx, s)
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	if len(users) != 1 || users[0].Role != domain.RoleAdmin || users[0].ID != AdminID {
		t.Fatalf("expected exactly one administrator, got %+v", users)
	}
	for _, c := range []domain.Collection{domain.CollectionAlbums, domain.CollectionPhotos} {
		recs, err := s.GetAll(ctx, c)
		if err != nil {
			t.Fatalf("get %s: %v", c, err)
		}
		if len(recs) != 0 {
			t.Fatalf("expected %s empty after reset, got %d", c, len(recs))
		}
	}
}

func TestResetDBFromEveryState(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.ResetDB(ctx); err != nil {
			t.Fatalf("reset empty: %v", err)
		}
		assertResetState(t, s)

		if err := s.BulkPut(ctx, domain.CollectionUsers, []domain.Record{
			domain.User{ID: "u1", Email: "a@example.com", Role: domain.RoleUser},
			domain.User{ID: "boss", Email: "b@example.com", Role: domain.RoleAdmin},
		}); err != nil {
			t.Fatalf("seed users: %v", err)
		}
		if err := s.BulkPut(ctx, domain.CollectionPhotos, ToRecords([]domain.Photo{samplePhoto("p1", "x.jpg")})); err != nil {
			t.Fatalf("seed photos: %v", err)
		}
		if err := s.ResetDB(ctx); err != nil {
			t.Fatalf("reset populated: %v", err)
		}
		assertResetState(t, s)

		if err := s.ResetDB(ctx); err != nil {
			t.Fatalf("reset again: %v", err)
		}
		assertResetState(t, s)
	})
}

func TestConcurrentResetsLeaveOneAdministrator(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.ResetDB(ctx)
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("reset: %v", err)
			}
		}
		assertResetState(t, s)
	})
}

func TestEnsureAdminExistsKeepsExistingAdministrator(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.BulkPut(ctx, domain.CollectionUsers, []domain.Record{
			domain.User{ID: "boss", Email: "b@example.com", Role: domain.RoleAdmin},
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if err := s.EnsureAdminExists(ctx); err != nil {
			t.Fatalf("ensure admin: %v", err)
		}
		users, err := Users(ctx, s)
		if err != nil {
			t.Fatalf("users: %v", err)
		}
		if len(users) != 1 || users[0].ID != "boss" {
			t.Fatalf("expected existing admin only, got %+v", users)
		}
	})
}

func TestAdminSeedDefaults(t *testing.T) {
	s := NewMemoryStore(AdminSeed{Email: "root@vault.test"})
	if err := s.ResetDB(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	users, _ := Users(context.Background(), s)
	if users[0].Email != "root@vault.test" || users[0].Name != "Administrator" {
		t.Fatalf("unexpected seed: %+v", users[0])
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore(AdminSeed{})
	ctx := context.Background()
	p := samplePhoto("p1", "one.jpg")
	if err := s.BulkPut(ctx, domain.CollectionPhotos, []domain.Record{p}); err != nil {
		t.Fatalf("put: %v", err)
	}
	p.AITags[0] = "mutated"
	photos, _ := Photos(ctx, s)
	photos[0].AITags[1] = "mutated"
	again, _ := Photos(ctx, s)
	if again[0].AITags[0] != "beach" || again[0].AITags[1] != "sunset" {
		t.Fatalf("store shares slices with callers: %v", again[0].AITags)
	}
}

func TestLogStoreCounts(t *testing.T) {
	s := NewMemoryStore(AdminSeed{})
	ctx := context.Background()
	if err := s.ResetDB(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := s.BulkPut(ctx, domain.CollectionPhotos, ToRecords([]domain.Photo{samplePhoto("p1", "a.jpg")})); err != nil {
		t.Fatalf("put: %v", err)
	}
	d, err := LogStore(ctx, s, nil)
	if err != nil {
		t.Fatalf("log store: %v", err)
	}
	if d.Counts[domain.CollectionUsers] != 1 || d.Counts[domain.CollectionAlbums] != 0 || d.Counts[domain.CollectionPhotos] != 1 {
		t.Fatalf("unexpected counts: %v", d.Counts)
	}
}

func TestEmptyTagsSurviveStore(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		tagged := samplePhoto("p1", "one.jpg")
		tagged.AITags = []string{}
		untagged := samplePhoto("p2", "two.jpg")
		untagged.AITags = nil
		if err := s.BulkPut(ctx, domain.CollectionPhotos, ToRecords([]domain.Photo{tagged, untagged})); err != nil {
			t.Fatalf("bulk put: %v", err)
		}
		photos, err := Photos(ctx, s)
		if err != nil {
			t.Fatalf("photos: %v", err)
		}
		if photos[0].AITags == nil || len(photos[0].AITags) != 0 {
			t.Fatalf("empty tags should stay empty and non-nil, got %#v", photos[0].AITags)
		}
		if photos[1].AITags != nil {
			t.Fatalf("untagged photo gained tags: %#v", photos[1].AITags)
		}
	})
}

func TestPhotoModelTags(t *testing.T) {
	m, err := photoToModel(domain.Photo{ID: "p1", AITags: []string{}})
	if err != nil {
		t.Fatalf("to model: %v", err)
	}
	p, err := photoFromModel(m)
	if err != nil {
		t.Fatalf("from model: %v", err)
	}
	if p.AITags == nil || len(p.AITags) != 0 {
		t.Fatalf("empty tags lost: %#v", p.AITags)
	}

	if _, err := photoFromModel(PhotoModel{ID: "p2", AITags: datatypes.JSON(`{"not":"a list"}`)}); err == nil {
		t.Fatalf("expected error for corrupt tag column")
	}
}
