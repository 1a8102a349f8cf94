package util

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"
)

// NewID returns a random 24-char hex id.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewPrefixedID returns prefix + "_" + NewID, e.g. "job_3f2a...".
func NewPrefixedID(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return NewID()
	}
	return prefix + "_" + NewID()
}

// ConsumerName builds a stream consumer name that stays readable in
// XINFO CONSUMERS output: service, host and a random suffix.
func ConsumerName(service string) string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		host = "unknown"
	}
	service = strings.TrimSpace(service)
	if service == "" {
		service = "worker"
	}
	return service + "-" + host + "-" + NewID()[:8]
}
