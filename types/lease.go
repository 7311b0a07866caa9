package types

import (
	"strings"
	"time"
)

// Lease is a pessimistic, TTL-backed hold an agent takes on a file
// before writing to it. Expiry is enforced by the KV store so a
// crashed holder releases automatically.
type Lease struct {
	FilePath   string    `json:"file_path"`
	AgentID    string    `json:"agent_id"`
	PRID       string    `json:"pr_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	IsTestFile bool      `json:"is_test_file"`
	ParentFile string    `json:"parent_file,omitempty"`
}

// Expired reports whether the lease's TTL has passed as of now.
func (l *Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// testFilePairing realizes the lease pairing convention decided in
// SPEC_FULL.md's Supplemented Features: a "_test" suffix before the
// extension pairs a file with its parent.
func testFilePairing(path string) (parent string, isTest bool) {
	dot := strings.LastIndexByte(path, '.')
	if dot < 0 {
		return "", false
	}
	stem, ext := path[:dot], path[dot:]
	const suffix = "_test"
	if !strings.HasSuffix(stem, suffix) {
		return "", false
	}
	return strings.TrimSuffix(stem, suffix) + ext, true
}

// NewLease builds a Lease for filePath, resolving its test-file
// pairing and setting ExpiresAt to acquiredAt+ttl.
func NewLease(filePath, agentID, prID string, acquiredAt time.Time, ttl time.Duration) *Lease {
	parent, isTest := testFilePairing(filePath)
	return &Lease{
		FilePath:   filePath,
		AgentID:    agentID,
		PRID:       prID,
		AcquiredAt: acquiredAt,
		ExpiresAt:  acquiredAt.Add(ttl),
		IsTestFile: isTest,
		ParentFile: parent,
	}
}
