// Package annotate runs vision tools on a photo and merges the results into
// the remote photo record. It never touches the local store; the local
// mirror picks the results up on its next sync.
package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"photovault/pkg/domain"
	"photovault/pkg/remote"
	"photovault/pkg/vision"
)

// ErrNoEnhancedURL is returned when the enhance tool succeeds without a URL.
var ErrNoEnhancedURL = errors.New("enhance returned no image url")

// EnhanceResult is what Enhance merged into the record.
type EnhanceResult struct {
	EnhancedURL string    `json:"enhancedUrl"`
	EnhancedAt  time.Time `json:"enhancedAt"`
}

// TagResult is what AutoSortAndTag merged into the record.
type TagResult struct {
	AITags []string `json:"aiTags"`
	Faces  int      `json:"faces"`
}

// Pipeline invokes vision tools and writes their results through a merge-update.
type Pipeline struct {
	tools  vision.Invoker
	merger remote.Merger
	now    func() time.Time
}

func NewPipeline(tools vision.Invoker, merger remote.Merger) *Pipeline {
	return &Pipeline{tools: tools, merger: merger, now: time.Now}
}

// Enhance derives an enhanced image and records its URL. Nothing is written
// when the tool fails or returns no URL.
func (p *Pipeline) Enhance(ctx context.Context, photo domain.Photo) (EnhanceResult, error) {
	raw, err := p.tools.Invoke(ctx, vision.ToolEnhance, photo.URL, nil)
	if err != nil {
		return EnhanceResult{}, fmt.Errorf("enhance %s: %w", photo.ID, err)
	}
	url, err := vision.DecodeEnhancedURL(raw)
	if err != nil {
		return EnhanceResult{}, fmt.Errorf("enhance %s: %w", photo.ID, err)
	}
	if url == "" {
		return EnhanceResult{}, fmt.Errorf("enhance %s: %w", photo.ID, ErrNoEnhancedURL)
	}
	res := EnhanceResult{EnhancedURL: url, EnhancedAt: p.now().UTC()}
	if err := p.merger.Merge(ctx, domain.CollectionPhotos, photo.ID, map[string]any{
		"enhancedUrl": res.EnhancedURL,
		"enhancedAt":  res.EnhancedAt,
	}); err != nil {
		return EnhanceResult{}, fmt.Errorf("merge enhancement %s: %w", photo.ID, err)
	}
	return res, nil
}

// AutoSortAndTag runs face detection and tag extraction concurrently. The
// merge happens only when both succeed.
func (p *Pipeline) AutoSortAndTag(ctx context.Context, photo domain.Photo) (TagResult, error) {
	var facesRaw, tagsRaw json.RawMessage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := p.tools.Invoke(gctx, vision.ToolFaceDetection, photo.URL, nil)
		facesRaw = raw
		return err
	})
	g.Go(func() error {
		raw, err := p.tools.Invoke(gctx, vision.ToolExtractTags, photo.URL, nil)
		tagsRaw = raw
		return err
	})
	if err := g.Wait(); err != nil {
		return TagResult{}, fmt.Errorf("annotate %s: %w", photo.ID, err)
	}

	faces, err := vision.DecodeFaceCount(facesRaw)
	if err != nil {
		return TagResult{}, fmt.Errorf("annotate %s: %w", photo.ID, err)
	}
	tags, err := vision.DecodeTags(tagsRaw)
	if err != nil {
		return TagResult{}, fmt.Errorf("annotate %s: %w", photo.ID, err)
	}
	res := TagResult{AITags: tags, Faces: faces}
	if err := p.merger.Merge(ctx, domain.CollectionPhotos, photo.ID, map[string]any{
		"aiTags": res.AITags,
		"faces":  res.Faces,
	}); err != nil {
		return TagResult{}, fmt.Errorf("merge annotations %s: %w", photo.ID, err)
	}
	return res, nil
}
