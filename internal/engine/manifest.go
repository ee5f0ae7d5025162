package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/nanotrace/internal/model"
)

const (
	ManifestVersion  = "2.0"
	ManifestFileName = "manifest.json"
)

// Compile id outcome recorded in the manifest.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusUnknown = "unknown"
)

// DroppedCounts tallies input that never reached a stream.
type DroppedCounts struct {
	Malformed    int64 `json:"malformed"`
	UnknownType  int64 `json:"unknown_type"`
	DanglingRefs int64 `json:"dangling_refs"`
}

// Total is the number of dropped lines. Dangling references do not drop a line.
func (d DroppedCounts) Total() int64 {
	return d.Malformed + d.UnknownType
}

// CompileIDDescriptor summarizes what was seen for one compile id.
type CompileIDDescriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	HasMetrics  bool   `json:"has_metrics"`
	HasGraphs   bool   `json:"has_graphs"`
	HasGuards   bool   `json:"has_guards"`
	Status      string `json:"status"`

	key model.CompileID
}

// StreamInfo locates one stream relative to the intermediate directory.
type StreamInfo struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

// CacheTally counts cache artifacts by status.
type CacheTally struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Bypasses int64 `json:"bypasses"`
}

// Manifest describes one ingestion run. It is updated once per written
// envelope, saved once at Finalize and read-only afterwards.
type Manifest struct {
	Version            string                `json:"version"`
	RunID              string                `json:"run_id"`
	GeneratedAt        string                `json:"generated_at"`
	SourceFile         string                `json:"source_file"`
	SourceFileHash     string                `json:"source_file_hash,omitempty"`
	TotalEnvelopes     int64                 `json:"total_envelopes"`
	EnvelopeCounts     map[string]int64      `json:"envelope_counts"`
	Dropped            DroppedCounts         `json:"dropped"`
	StringTableEntries int                   `json:"string_table_entries"`
	Ranks              []int                 `json:"ranks"`
	CompileIDs         []CompileIDDescriptor `json:"compile_ids"`
	Files              map[string]StreamInfo `json:"files"`
	Cache              CacheTally            `json:"cache"`

	mu     sync.Mutex
	frozen bool
	ids    map[string]*CompileIDDescriptor
	ranks  map[int]bool
}

// NewManifest creates an empty, mutable manifest.
func NewManifest(runID, sourceFile string) *Manifest {
	return &Manifest{
		Version:        ManifestVersion,
		RunID:          runID,
		SourceFile:     sourceFile,
		EnvelopeCounts: make(map[string]int64),
		Files:          make(map[string]StreamInfo),
		Ranks:          []int{},
		CompileIDs:     []CompileIDDescriptor{},
		ids:            make(map[string]*CompileIDDescriptor),
		ranks:          make(map[int]bool),
	}
}

// RegisterStream records where a stream lives before anything is written.
func (m *Manifest) RegisterStream(ft model.IntermediateFileType, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return ErrManifestFrozen
	}
	m.Files[ft.String()] = StreamInfo{Path: path}
	return nil
}

// Record accounts for one envelope written to ft.
func (m *Manifest) Record(env *model.Envelope, ft model.IntermediateFileType, status model.CacheStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return ErrManifestFrozen
	}

	m.TotalEnvelopes++
	m.EnvelopeCounts[env.EntryType]++
	info := m.Files[ft.String()]
	info.Count++
	m.Files[ft.String()] = info

	if env.Rank.Valid {
		m.ranks[env.Rank.Value] = true
	}

	switch status {
	case model.CacheHit:
		m.Cache.Hits++
	case model.CacheMiss:
		m.Cache.Misses++
	case model.CacheBypass:
		m.Cache.Bypasses++
	}

	if env.CompileID == nil {
		return nil
	}
	key := env.CompileID.String()
	d, ok := m.ids[key]
	if !ok {
		d = &CompileIDDescriptor{
			ID:          key,
			DisplayName: env.CompileID.DisplayName(),
			Status:      StatusUnknown,
			key:         *env.CompileID,
		}
		m.ids[key] = d
	}
	switch ft {
	case model.Graphs:
		d.HasGraphs = true
	case model.Guards:
		d.HasGuards = true
	case model.CompilationMetrics:
		switch env.EntryType {
		case model.TypeCompilationMetrics, model.TypeBwdCompilationMetrics, model.TypeAOTBackwardMetrics:
			d.HasMetrics = true
			if fastjson.GetString(env.Metadata, "fail_type") != "" {
				d.Status = StatusFailure
			} else if d.Status == StatusUnknown {
				d.Status = StatusSuccess
			}
		}
	}
	return nil
}

// Drop counts a skipped line by the kind of its error.
func (m *Manifest) Drop(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return
	}
	switch {
	case errors.Is(err, ErrUnknownEnvelopeType):
		m.Dropped.UnknownType++
	default:
		m.Dropped.Malformed++
	}
}

// Finalize fills derived fields, writes the manifest into dir and freezes it.
func (m *Manifest) Finalize(dir string, stringTableEntries int, dangling int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return ErrManifestFrozen
	}

	m.StringTableEntries = stringTableEntries
	m.Dropped.DanglingRefs = dangling
	m.GeneratedAt = time.Now().UTC().Format(time.RFC3339)

	m.Ranks = m.Ranks[:0]
	for r := range m.ranks {
		m.Ranks = append(m.Ranks, r)
	}
	sort.Ints(m.Ranks)

	m.CompileIDs = m.CompileIDs[:0]
	for _, d := range m.ids {
		m.CompileIDs = append(m.CompileIDs, *d)
	}
	sort.Slice(m.CompileIDs, func(i, j int) bool {
		return m.CompileIDs[i].key.Less(m.CompileIDs[j].key)
	})

	if err := saveManifest(dir, m); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	m.frozen = true
	return nil
}

// Frozen reports whether Finalize has completed.
func (m *Manifest) Frozen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frozen
}

// CompileID returns the descriptor for key.
func (m *Manifest) CompileID(key string) (CompileIDDescriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.CompileIDs {
		if d.ID == key {
			return d, true
		}
	}
	if d, ok := m.ids[key]; ok {
		return *d, true
	}
	return CompileIDDescriptor{}, false
}

// CompileIDKeys returns the sorted compile id keys.
func (m *Manifest) CompileIDKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, len(m.CompileIDs))
	for i, d := range m.CompileIDs {
		keys[i] = d.ID
	}
	return keys
}

// saveManifest writes the manifest to disk atomically.
func saveManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dir, ManifestFileName)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// LoadManifest reads a finalized manifest. The result is frozen.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, err
	}
	m := NewManifest("", "")
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	for i := range m.CompileIDs {
		if id, err := model.ParseCompileID(m.CompileIDs[i].ID); err == nil {
			m.CompileIDs[i].key = id
		}
	}
	m.frozen = true
	return m, nil
}
