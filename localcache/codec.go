package localcache

import (
	"encoding/json"
	"fmt"

	"github.com/jrsteele09/go-social-connect/internal/sealbox"
)

// Seal encodes an entry as sealed JSON for durable backends.
func Seal(box *sealbox.Box, entry *Entry) (string, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("[localcache Seal] encode: %w", err)
	}
	return box.Seal(string(raw))
}

// Open reverses Seal.
func Open(box *sealbox.Box, sealed string) (*Entry, error) {
	raw, err := box.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("[localcache Open] %w", err)
	}
	entry := &Entry{}
	if raw == "" {
		return entry, nil
	}
	if err := json.Unmarshal([]byte(raw), entry); err != nil {
		return nil, fmt.Errorf("[localcache Open] decode: %w", err)
	}
	return entry, nil
}
