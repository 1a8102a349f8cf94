package backup

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"photovault/pkg/storage"
)

// Archiver uploads exported snapshots to object storage.
type Archiver struct {
	codec   *Codec
	objects storage.ObjectStore
}

func NewArchiver(codec *Codec, objects storage.ObjectStore) *Archiver {
	return &Archiver{codec: codec, objects: objects}
}

// Archive exports the store and uploads it under backups/<Filename(now)>.
func (a *Archiver) Archive(ctx context.Context, now time.Time) (string, error) {
	snapshot, err := a.codec.Export(ctx)
	if err != nil {
		return "", err
	}
	data, err := Encode(snapshot)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	key := path.Join("backups", Filename(now))
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}
	return key, nil
}
