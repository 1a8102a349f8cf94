package storage

import (
	"path"
	"path/filepath"
	"strings"

	"photovault/pkg/domain"
)

// PhotoKey returns the object key holding a photo's original file. Every
// segment is sanitized, so ids or names carrying "/" or ".." cannot point the
// key at another object.
func PhotoKey(p domain.Photo) string {
	return path.Join("photos",
		keySegment(p.UserID, "unknown"),
		keySegment(p.ID, "unknown"),
		keySegment(filepath.Base(p.Name), "photo"),
	)
}

// keySegment sanitizes one path element; dot-only results use fallback.
func keySegment(raw, fallback string) string {
	v := sanitizeFilename(raw)
	if strings.Trim(v, ".") == "" {
		return fallback
	}
	return v
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == "." {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
