package vision

import (
	"encoding/json"
	"fmt"
	"strings"
)

type enhancePayload struct {
	URL string `json:"url"`
}

type facesPayload struct {
	Faces []json.RawMessage `json:"faces"`
}

type tagsPayload struct {
	Tags []struct {
		Tag string `json:"tag"`
	} `json:"tags"`
}

// DecodeEnhancedURL returns the derived image URL, or "" when the tool gave none.
func DecodeEnhancedURL(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var p enhancePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("decode enhance payload: %w", err)
	}
	return strings.TrimSpace(p.URL), nil
}

// DecodeFaceCount returns how many faces were detected.
func DecodeFaceCount(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var p facesPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, fmt.Errorf("decode face payload: %w", err)
	}
	return len(p.Faces), nil
}

// DecodeTags returns tags in extraction order; duplicates are kept.
func DecodeTags(raw json.RawMessage) ([]string, error) {
	tags := []string{}
	if len(raw) == 0 || string(raw) == "null" {
		return tags, nil
	}
	var p tagsPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode tags payload: %w", err)
	}
	for _, t := range p.Tags {
		tags = append(tags, t.Tag)
	}
	return tags, nil
}
