package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"photovault/pkg/domain"
	"photovault/pkg/store"
)

func newSeededStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore(store.AdminSeed{})
	ctx := context.Background()
	if err := s.ResetDB(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := s.BulkPut(ctx, domain.CollectionAlbums, []domain.Record{
		domain.Album{ID: "old-album", Name: "Old", UserID: "admin", CreatedAt: time.Now().UTC()},
	}); err != nil {
		t.Fatalf("seed album: %v", err)
	}
	return s
}

func TestParseRejectsMissingCollections(t *testing.T) {
	cases := map[string]string{
		"not json":       "this is not json",
		"array":          `[]`,
		"missing users":  `{"albums":[],"photos":[]}`,
		"missing albums": `{"users":[],"photos":[]}`,
		"missing photos": `{"users":[],"albums":[]}`,
		"null photos":    `{"users":[],"albums":[],"photos":null}`,
		"wrong type":     `{"users":[],"albums":{},"photos":[]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestParseAcceptsEmptyCollections(t *testing.T) {
	snap, err := Parse([]byte(`{"users":[],"albums":[],"photos":[]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if snap.Users == nil || snap.Albums == nil || snap.Photos == nil {
		t.Fatalf("expected empty non-nil collections, got %+v", snap)
	}
}

func TestImportDropsUsersAndRestoresAlbumsPhotos(t *testing.T) {
	s := newSeededStore(t)
	codec := NewCodec(s)
	ctx := context.Background()

	raw := `{
		"users": [{"id":"u9","email":"x@example.com","name":"X","role":"admin","createdAt":"2024-01-01T00:00:00Z"}],
		"albums": [],
		"photos": [{"id":"ph1","userId":"u9","name":"a.jpg","url":"https://x/a.jpg","uploadedAt":"2024-01-02T00:00:00Z"}]
	}`
	snap, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := codec.Confirm(ctx, snap); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	users, _ := store.Users(ctx, s)
	for _, u := range users {
		if u.ID == "u9" {
			t.Fatalf("imported user must not be applied")
		}
	}
	if len(users) != 1 || users[0].ID != store.AdminID {
		t.Fatalf("expected only the seeded administrator, got %+v", users)
	}
	photos, _ := store.Photos(ctx, s)
	if len(photos) != 1 || photos[0].ID != "ph1" {
		t.Fatalf("expected exactly ph1, got %+v", photos)
	}
	albums, _ := store.Albums(ctx, s)
	if len(albums) != 0 {
		t.Fatalf("expected previous albums wiped, got %+v", albums)
	}
}

func TestConfirmThenExportRoundTrip(t *testing.T) {
	s := newSeededStore(t)
	codec := NewCodec(s)
	ctx := context.Background()
	album := "a1"
	faces := 3
	zero := 0
	enhanced := "https://x/p1-enhanced.jpg"
	at := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	in := domain.Snapshot{
		Users:  []domain.User{{ID: "someone", Role: domain.RoleUser}},
		Albums: []domain.Album{{ID: "a1", Name: "Trips", UserID: "nobody", CreatedAt: at}},
		Photos: []domain.Photo{
			{ID: "p1", AlbumID: &album, UserID: "u1", Name: "sunset.jpg", URL: "https://x/p1.jpg", UploadedAt: at,
				EnhancedURL: &enhanced, EnhancedAt: &at, AITags: []string{"sky", "sky"}, Faces: &faces},
			{ID: "p2", UserID: "u1", Name: "loose.jpg", URL: "https://x/p2.jpg", UploadedAt: at},
			{ID: "p3", UserID: "u1", Name: "wall.jpg", URL: "https://x/p3.jpg", UploadedAt: at,
				AITags: []string{}, Faces: &zero},
		},
	}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := codec.Confirm(ctx, parsed); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	out, err := codec.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(out.Users) != 1 || out.Users[0].Role != domain.RoleAdmin {
		t.Fatalf("expected administrator only, got %+v", out.Users)
	}
	if len(out.Albums) != 1 || out.Albums[0].ID != "a1" || out.Albums[0].UserID != "nobody" || !out.Albums[0].CreatedAt.Equal(at) {
		t.Fatalf("albums mismatch: %+v", out.Albums)
	}
	if len(out.Photos) != 3 {
		t.Fatalf("photos mismatch: %+v", out.Photos)
	}
	got := out.Photos[0]
	if *got.AlbumID != "a1" || *got.EnhancedURL != enhanced || !got.EnhancedAt.Equal(at) || *got.Faces != 3 || len(got.AITags) != 2 {
		t.Fatalf("photo fields lost: %+v", got)
	}
	if out.Photos[1].AlbumID != nil || out.Photos[1].AITags != nil {
		t.Fatalf("unassigned photo gained fields: %+v", out.Photos[1])
	}
	if empty := out.Photos[2]; empty.AITags == nil || len(empty.AITags) != 0 || *empty.Faces != 0 {
		t.Fatalf("tagged-with-nothing photo changed: %+v", empty)
	}

	encoded, err := Encode(out)
	if err != nil {
		t.Fatalf("encode export: %v", err)
	}
	if n := strings.Count(string(encoded), `"aiTags"`); n != 2 {
		t.Fatalf("expected aiTags on p1 and p3 only, found %d in %s", n, encoded)
	}
	if !strings.Contains(string(encoded), `"aiTags": []`) {
		t.Fatalf("empty aiTags dropped from export: %s", encoded)
	}
}

func TestRejectedImportLeavesStoreUntouched(t *testing.T) {
	s := newSeededStore(t)
	codec := NewCodec(s)
	ctx := context.Background()

	_, err := Parse([]byte(`{"users":[],"albums":[],"photos":[{"name":"a.jpg"}]}`))
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "photos[0].id" {
		t.Fatalf("expected validation error on photos[0].id, got %v", err)
	}

	// A snapshot built without Parse is checked again before the reset.
	bad := domain.Snapshot{
		Albums: []domain.Album{{ID: "a1"}},
		Photos: []domain.Photo{{ID: "ok"}, {ID: " "}},
	}
	err = codec.Confirm(ctx, bad)
	if !errors.As(err, &verr) || verr.Field != "photos[1].id" {
		t.Fatalf("expected validation error on photos[1].id, got %v", err)
	}
	albums, _ := store.Albums(ctx, s)
	if len(albums) != 1 || albums[0].ID != "old-album" {
		t.Fatalf("store changed by rejected import: %+v", albums)
	}
}

func TestExportOnEmptyStoreEncodesAllKeys(t *testing.T) {
	codec := NewCodec(store.NewMemoryStore(store.AdminSeed{}))
	snap, err := codec.Export(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := Encode(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Parse(data); err != nil {
		t.Fatalf("exported snapshot must parse: %v (%s)", err, data)
	}
}

func TestFilename(t *testing.T) {
	at := time.Date(2024, 6, 7, 8, 9, 10, 0, time.UTC)
	if got := Filename(at); got != "photovault_backup_2024-06-07T08-09-10Z.json" {
		t.Fatalf("unexpected filename: %s", got)
	}
}

func TestStagerConfirmsOnce(t *testing.T) {
	s := newSeededStore(t)
	stager := NewStager(NewCodec(s), time.Minute)
	ctx := context.Background()

	if _, err := stager.Stage([]byte(`{"users":[]}`)); err == nil {
		t.Fatalf("expected validation error")
	}
	albums, _ := store.Albums(ctx, s)
	if len(albums) != 1 {
		t.Fatalf("staging a bad file must not touch the store")
	}

	staged, err := stager.Stage([]byte(`{"users":[],"albums":[{"id":"a9","name":"New","userId":"u1","createdAt":"2024-01-01T00:00:00Z"}],"photos":[]}`))
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if staged.Counts[domain.CollectionAlbums] != 1 {
		t.Fatalf("unexpected counts: %v", staged.Counts)
	}
	albums, _ = store.Albums(ctx, s)
	if len(albums) != 1 || albums[0].ID != "old-album" {
		t.Fatalf("staging must not apply the snapshot")
	}

	if _, err := stager.Confirm(ctx, staged.Token); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	albums, _ = store.Albums(ctx, s)
	if len(albums) != 1 || albums[0].ID != "a9" {
		t.Fatalf("expected imported album, got %+v", albums)
	}

	var nf *domain.NotFoundError
	if _, err := stager.Confirm(ctx, staged.Token); !errors.As(err, &nf) {
		t.Fatalf("second confirm should fail with NotFoundError, got %v", err)
	}
}

func TestStagerCancelAndExpiry(t *testing.T) {
	stager := NewStager(NewCodec(newSeededStore(t)), time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stager.now = func() time.Time { return now }

	raw := []byte(`{"users":[],"albums":[],"photos":[]}`)
	first, err := stager.Stage(raw)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := stager.Cancel(first.Token); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := stager.Cancel(first.Token); err == nil {
		t.Fatalf("expected cancelled token to be gone")
	}

	second, err := stager.Stage(raw)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	now = now.Add(2 * time.Minute)
	var nf *domain.NotFoundError
	if _, err := stager.Confirm(context.Background(), second.Token); !errors.As(err, &nf) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

type memObjects struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.test/" + key, nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func TestArchiverUploadsSnapshot(t *testing.T) {
	objects := &memObjects{objects: map[string][]byte{}, types: map[string]string{}}
	archiver := NewArchiver(NewCodec(newSeededStore(t)), objects)
	at := time.Date(2024, 6, 7, 8, 9, 10, 0, time.UTC)

	key, err := archiver.Archive(context.Background(), at)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if key != "backups/photovault_backup_2024-06-07T08-09-10Z.json" {
		t.Fatalf("unexpected key: %s", key)
	}
	if objects.types[key] != "application/json" {
		t.Fatalf("unexpected content type: %q", objects.types[key])
	}
	snap, err := Parse(objects.objects[key])
	if err != nil {
		t.Fatalf("archived snapshot must parse: %v", err)
	}
	if len(snap.Albums) != 1 || !bytes.Contains(objects.objects[key], []byte("old-album")) {
		t.Fatalf("unexpected archived content: %s", objects.objects[key])
	}
}

func TestArchiverPropagatesUploadFailure(t *testing.T) {
	objects := &memObjects{err: errors.New("bucket unavailable")}
	archiver := NewArchiver(NewCodec(newSeededStore(t)), objects)
	_, err := archiver.Archive(context.Background(), time.Now())
	if err == nil || !strings.Contains(err.Error(), "bucket unavailable") {
		t.Fatalf("expected upload error, got %v", err)
	}
}
