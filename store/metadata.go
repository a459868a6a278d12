package store

import "sync"

// InstanceMetadata is an administrative override applied to instances
// during view materialization, keyed by the metadata id the publisher
// declared.
type InstanceMetadata struct {
	Weight   *float64          `json:"weight,omitempty"`
	Enabled  *bool             `json:"enabled,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MetadataManager holds metadata overrides. It is read on every view
// rebuild and written only by administrative operations, so a single
// RWMutex is enough.
type MetadataManager struct {
	mu sync.RWMutex
	m  map[string]InstanceMetadata
}

func NewMetadataManager() *MetadataManager {
	return &MetadataManager{m: make(map[string]InstanceMetadata)}
}

func (m *MetadataManager) Set(metadataID string, md InstanceMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[metadataID] = md
}

func (m *MetadataManager) Get(metadataID string) (InstanceMetadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.m[metadataID]
	return md, ok
}

func (m *MetadataManager) Remove(metadataID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, metadataID)
}
