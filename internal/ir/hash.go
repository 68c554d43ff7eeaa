package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Checksum domains. Each hashed encoding gets its own, versioned.
const (
	DomainEvent    = "atlas/event/v1"
	DomainSnapshot = "atlas/snapshot/v1"
	DomainState    = "atlas/state/v1"
)

// HashWithDomain returns hex SHA-256 over domain, a zero byte, then data.
// The separator keeps a domain from running into the data it prefixes.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventChecksum computes the integrity checksum of a ledger record.
// It covers every record field except the checksum itself.
func EventChecksum(e Event) (string, error) {
	obj := IRObject{
		"sequence":  IRInt(int64(e.Sequence)),
		"event_id":  IRString(e.EventID),
		"timestamp": IRString(FormatTimestamp(e.Timestamp)),
		"kind":      IRString(string(e.Kind)),
		"payload":   e.Payload,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("event %s checksum: %w", e.EventID, err)
	}
	return HashWithDomain(DomainEvent, canonical), nil
}
