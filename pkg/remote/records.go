// Package remote is the document store that holds the canonical records.
// Each record is a Redis hash whose fields hold JSON-encoded values, so a
// merge-update only rewrites the fields it names.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"photovault/pkg/domain"
)

// Merger applies a partial-field update to an existing record.
type Merger interface {
	Merge(ctx context.Context, c domain.Collection, id string, fields map[string]any) error
}

// mergeScript sets fields only when the record already exists.
var mergeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1
`)

// RedisRecords implements the remote document store on Redis hashes.
type RedisRecords struct {
	client *redis.Client
	prefix string
}

// NewRedisRecords connects to Redis; prefix namespaces every key.
func NewRedisRecords(addr, password, prefix string) (*RedisRecords, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("remote records redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "photovault"
	}
	return &RedisRecords{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix: prefix,
	}, nil
}

func (r *RedisRecords) recordKey(c domain.Collection, id string) string {
	return fmt.Sprintf("%s:%s:rec:%s", r.prefix, c, id)
}

func (r *RedisRecords) indexKey(c domain.Collection) string {
	return fmt.Sprintf("%s:%s:index", r.prefix, c)
}

// Put replaces the whole record.
func (r *RedisRecords) Put(ctx context.Context, c domain.Collection, rec domain.Record) error {
	if !c.Valid() {
		return fmt.Errorf("unknown collection %q", c)
	}
	id := strings.TrimSpace(rec.RecordID())
	if id == "" {
		return &domain.ValidationError{Field: "id", Reason: "required"}
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = string(v)
	}
	key := r.recordKey(c, id)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, values)
	pipe.SAdd(ctx, r.indexKey(c), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return &domain.NetworkError{Op: "remote put", Err: err}
	}
	return nil
}

// Merge updates only the named fields; a missing record is a *domain.NotFoundError.
func (r *RedisRecords) Merge(ctx context.Context, c domain.Collection, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	args := make([]any, 0, len(fields)*2)
	for _, name := range names {
		raw, err := json.Marshal(fields[name])
		if err != nil {
			return fmt.Errorf("encode field %s: %w", name, err)
		}
		args = append(args, name, string(raw))
	}
	applied, err := mergeScript.Run(ctx, r.client, []string{r.recordKey(c, id)}, args...).Int64()
	if err != nil {
		return &domain.NetworkError{Op: "remote merge", Err: err}
	}
	if applied == 0 {
		return &domain.NotFoundError{Collection: c, ID: id}
	}
	return nil
}

// Get returns the raw fields of one record.
func (r *RedisRecords) Get(ctx context.Context, c domain.Collection, id string) (map[string]json.RawMessage, error) {
	data, err := r.client.HGetAll(ctx, r.recordKey(c, id)).Result()
	if err != nil {
		return nil, &domain.NetworkError{Op: "remote get", Err: err}
	}
	if len(data) == 0 {
		return nil, &domain.NotFoundError{Collection: c, ID: id}
	}
	return rawFields(data), nil
}

// Delete removes one record by id.
func (r *RedisRecords) Delete(ctx context.Context, c domain.Collection, id string) error {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, r.recordKey(c, id))
	pipe.SRem(ctx, r.indexKey(c), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return &domain.NetworkError{Op: "remote delete", Err: err}
	}
	if del.Val() == 0 {
		return &domain.NotFoundError{Collection: c, ID: id}
	}
	return nil
}

// List returns the raw fields of every record, ordered by id.
func (r *RedisRecords) List(ctx context.Context, c domain.Collection) ([]map[string]json.RawMessage, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey(c)).Result()
	if err != nil {
		return nil, &domain.NetworkError{Op: "remote list", Err: err}
	}
	sort.Strings(ids)
	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, r.recordKey(c, id)))
	}
	if len(cmds) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, &domain.NetworkError{Op: "remote list", Err: err}
		}
	}
	out := make([]map[string]json.RawMessage, 0, len(cmds))
	for _, cmd := range cmds {
		data := cmd.Val()
		if len(data) == 0 {
			continue
		}
		out = append(out, rawFields(data))
	}
	return out, nil
}

// GetPhoto loads one photo record.
func (r *RedisRecords) GetPhoto(ctx context.Context, id string) (domain.Photo, error) {
	fields, err := r.Get(ctx, domain.CollectionPhotos, id)
	if err != nil {
		return domain.Photo{}, err
	}
	var p domain.Photo
	if err := decode(fields, &p); err != nil {
		return domain.Photo{}, fmt.Errorf("decode photo %s: %w", id, err)
	}
	return p, nil
}

// ListPhotos loads every photo record.
func (r *RedisRecords) ListPhotos(ctx context.Context) ([]domain.Photo, error) {
	return listTyped[domain.Photo](ctx, r, domain.CollectionPhotos)
}

// ListAlbums loads every album record.
func (r *RedisRecords) ListAlbums(ctx context.Context) ([]domain.Album, error) {
	return listTyped[domain.Album](ctx, r, domain.CollectionAlbums)
}

func listTyped[T any](ctx context.Context, r *RedisRecords, c domain.Collection) ([]T, error) {
	all, err := r.List(ctx, c)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(all))
	for _, fields := range all {
		var item T
		if err := decode(fields, &item); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", c, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func rawFields(data map[string]string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(data))
	for k, v := range data {
		out[k] = json.RawMessage(v)
	}
	return out
}

func decode(fields map[string]json.RawMessage, out any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
