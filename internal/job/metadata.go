package job

import (
	"encoding/json"
	"fmt"
)

// MetadataVersion is bumped whenever the metadata shape changes.
const MetadataVersion = 1

// Metadata is the structured per-job diagnostic record. It replaces a
// free-form map so downstream consumers can read which artifacts to expect
// without re-deriving it from array membership.
type Metadata struct {
	Version       int               `json:"version"`
	Requested     []Action          `json:"requested_actions"`
	Provider      string            `json:"provider,omitempty"`
	PageCount     int               `json:"page_count,omitempty"`
	ProviderTrace map[string]string `json:"provider_trace,omitempty"`
	Degraded      []string          `json:"degraded,omitempty"`
}

// NewMetadata seeds metadata with the requested-actions echo.
func NewMetadata(requested []Action) Metadata {
	cp := make([]Action, len(requested))
	copy(cp, requested)
	return Metadata{Version: MetadataVersion, Requested: cp}
}

// AddTrace records a provider-specific diagnostic key.
func (m *Metadata) AddTrace(key, value string) {
	if m.ProviderTrace == nil {
		m.ProviderTrace = map[string]string{}
	}
	m.ProviderTrace[key] = value
}

// MarkDegraded records a non-fatal failure of a named step.
func (m *Metadata) MarkDegraded(step string) {
	for _, s := range m.Degraded {
		if s == step {
			return
		}
	}
	m.Degraded = append(m.Degraded, step)
}

func (m Metadata) marshal() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

func unmarshalMetadata(raw string) (Metadata, error) {
	if raw == "" {
		return Metadata{Version: MetadataVersion}, nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Metadata{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if m.Version == 0 {
		m.Version = MetadataVersion
	}
	return m, nil
}
