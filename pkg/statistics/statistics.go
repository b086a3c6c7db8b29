// Package statistics collects binding compilation statistics and persists
// them to a folder.
package statistics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lemonberrylabs/bindc/pkg/datacontext"
)

// FileName is the snapshot file written into the statistics folder.
const FileName = "binding-statistics.yaml"

// Config selects the statistics backend.
type Config struct {
	// StatisticsFolder is where snapshots are written. Empty or
	// whitespace-only disables statistics.
	StatisticsFolder string `yaml:"statisticsFolder"`
}

// Provider receives compilation events and can persist what it collected.
type Provider interface {
	RecordCompilation(expression string, stack *datacontext.Stack, elapsed time.Duration, err error)
	Snapshot() Snapshot
	Flush() error
}

// Snapshot is a point-in-time copy of the collected counters.
type Snapshot struct {
	Compilations int            `yaml:"compilations" json:"compilations"`
	Failures     int            `yaml:"failures" json:"failures"`
	TotalMillis  float64        `yaml:"totalMillis" json:"totalMillis"`
	Contexts     map[string]int `yaml:"contexts,omitempty" json:"contexts,omitempty"`
	Since        time.Time      `yaml:"since" json:"since"`
}

// GetProvider returns a NopProvider when cfg has no folder and a
// FolderProvider otherwise.
func GetProvider(cfg Config) Provider {
	if strings.TrimSpace(cfg.StatisticsFolder) == "" {
		return NopProvider{}
	}
	return NewFolderProvider(cfg.StatisticsFolder)
}

// NopProvider discards everything.
type NopProvider struct{}

func (NopProvider) RecordCompilation(string, *datacontext.Stack, time.Duration, error) {}
func (NopProvider) Snapshot() Snapshot                                                 { return Snapshot{} }
func (NopProvider) Flush() error                                                       { return nil }

// FolderProvider keeps counters in memory and writes them to Folder on Flush.
type FolderProvider struct {
	mu     sync.Mutex
	folder string
	stats  Snapshot
}

// NewFolderProvider creates a provider writing into folder. The folder is
// created on first Flush.
func NewFolderProvider(folder string) *FolderProvider {
	return &FolderProvider{
		folder: folder,
		stats:  Snapshot{Contexts: map[string]int{}, Since: time.Now().UTC()},
	}
}

// Folder returns the target directory.
func (p *FolderProvider) Folder() string {
	return p.folder
}

// RecordCompilation counts one compilation.
func (p *FolderProvider) RecordCompilation(_ string, stack *datacontext.Stack, elapsed time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Compilations++
	if err != nil {
		p.stats.Failures++
	}
	p.stats.TotalMillis += float64(elapsed) / float64(time.Millisecond)
	if stack != nil {
		p.stats.Contexts[stack.String()]++
	}
}

// Snapshot returns a copy of the counters.
func (p *FolderProvider) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.Contexts = make(map[string]int, len(p.stats.Contexts))
	for k, v := range p.stats.Contexts {
		s.Contexts[k] = v
	}
	return s
}

// Flush writes the current snapshot to Folder/FileName.
func (p *FolderProvider) Flush() error {
	data, err := yaml.Marshal(p.Snapshot())
	if err != nil {
		return fmt.Errorf("encoding statistics: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(p.folder, 0o755); err != nil {
		return fmt.Errorf("creating statistics folder: %w", err)
	}
	if err := os.WriteFile(filepath.Join(p.folder, FileName), data, 0o644); err != nil {
		return fmt.Errorf("writing statistics: %w", err)
	}
	return nil
}

// Load reads a snapshot previously written by Flush.
func Load(folder string) (Snapshot, error) {
	var s Snapshot
	data, err := os.ReadFile(filepath.Join(folder, FileName))
	if err != nil {
		return s, fmt.Errorf("reading statistics: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parsing statistics: %w", err)
	}
	return s, nil
}
