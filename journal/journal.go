// Package journal provides durable audit.Store implementations and export
// formats for audit entries.
package journal

import (
	"encoding/json"
	"fmt"

	"github.com/rustyeddy/riskguard/audit"
)

// Journal is an audit store that holds resources.
type Journal interface {
	audit.Store
	Close() error
}

func encodeDetails(d map[string]any) (string, error) {
	if len(d) == 0 {
		return "", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode details: %w", err)
	}
	return string(b), nil
}

func decodeDetails(s []byte) (map[string]any, error) {
	if len(s) == 0 {
		return nil, nil
	}
	var d map[string]any
	if err := json.Unmarshal(s, &d); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	return d, nil
}
