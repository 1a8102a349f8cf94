// Package backup exports the local store to a portable snapshot and restores
// albums and photos from one.
//
// Restoring never applies the snapshot's users: the store is reset, which
// reseeds the administrator, and only albums and photos are written back.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"photovault/pkg/domain"
	"photovault/pkg/store"
)

const filenamePrefix = "photovault_backup_"

// Codec moves snapshots in and out of a store.
type Codec struct {
	store store.Store
}

// NewCodec binds a codec to the store it exports from and imports into.
func NewCodec(s store.Store) *Codec {
	return &Codec{store: s}
}

// Export reads all three collections. It never mutates the store.
func (c *Codec) Export(ctx context.Context) (domain.Snapshot, error) {
	users, err := store.Users(ctx, c.store)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("export users: %w", err)
	}
	albums, err := store.Albums(ctx, c.store)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("export albums: %w", err)
	}
	photos, err := store.Photos(ctx, c.store)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("export photos: %w", err)
	}
	return normalize(domain.Snapshot{Users: users, Albums: albums, Photos: photos}), nil
}

// Confirm applies a parsed snapshot: reset, then albums, then photos.
// snapshot.Users is ignored. The store is not touched when a record would be
// rejected.
func (c *Codec) Confirm(ctx context.Context, snapshot domain.Snapshot) error {
	if err := validate(snapshot); err != nil {
		return err
	}
	if err := c.store.ResetDB(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	if err := c.store.BulkPut(ctx, domain.CollectionAlbums, store.ToRecords(snapshot.Albums)); err != nil {
		return fmt.Errorf("import albums: %w", err)
	}
	if err := c.store.BulkPut(ctx, domain.CollectionPhotos, store.ToRecords(snapshot.Photos)); err != nil {
		return fmt.Errorf("import photos: %w", err)
	}
	return nil
}

// Parse decodes raw snapshot text. All three collections must be present;
// empty arrays are accepted.
func Parse(raw []byte) (domain.Snapshot, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return domain.Snapshot{}, &domain.ValidationError{Reason: "backup is not a JSON object: " + err.Error()}
	}
	for _, c := range domain.Collections {
		v, ok := top[string(c)]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return domain.Snapshot{}, &domain.ValidationError{Field: string(c), Reason: "missing collection"}
		}
	}
	var snapshot domain.Snapshot
	if err := decodeField(top, domain.CollectionUsers, &snapshot.Users); err != nil {
		return domain.Snapshot{}, err
	}
	if err := decodeField(top, domain.CollectionAlbums, &snapshot.Albums); err != nil {
		return domain.Snapshot{}, err
	}
	if err := decodeField(top, domain.CollectionPhotos, &snapshot.Photos); err != nil {
		return domain.Snapshot{}, err
	}
	if err := validate(snapshot); err != nil {
		return domain.Snapshot{}, err
	}
	return normalize(snapshot), nil
}

// validate applies the store's per-record rules to the collections an import
// writes, so a bad record fails before the reset.
func validate(s domain.Snapshot) error {
	if err := checkIDs(domain.CollectionAlbums, s.Albums); err != nil {
		return err
	}
	return checkIDs(domain.CollectionPhotos, s.Photos)
}

func checkIDs[T domain.Record](c domain.Collection, recs []T) error {
	for i, rec := range recs {
		if strings.TrimSpace(rec.RecordID()) == "" {
			return &domain.ValidationError{Field: fmt.Sprintf("%s[%d].id", c, i), Reason: "record id required"}
		}
	}
	return nil
}
