package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SourceHashPolicy computes a stable hash for ingested document text so that
// re-ingesting identical content is a no-op.
type SourceHashPolicy interface {
	Compute(title, body string) string
}

type sourceHashPolicy struct{}

// NewSourceHashPolicy creates the default SHA-256 hash policy.
func NewSourceHashPolicy() SourceHashPolicy {
	return &sourceHashPolicy{}
}

// Compute hashes the trimmed title and body. A null-byte separator keeps
// ("ab","c") distinct from ("a","bc").
func (p *sourceHashPolicy) Compute(title, body string) string {
	content := strings.TrimSpace(title) + "\x00" + strings.TrimSpace(body)
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}
