package templates

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrTemplateNotFound is returned when an id has no template.
var ErrTemplateNotFound = errors.New("templates: not found")

// Repository is the read side the dialogue engine needs.
type Repository interface {
	// ListActive returns active and approved templates in a stable order.
	ListActive(ctx context.Context) ([]Template, error)
	RecordUsage(ctx context.Context, id string, at time.Time) error
}

// Store adds the authoring operations used by the admin API.
type Store interface {
	Repository
	List(ctx context.Context) ([]Template, error)
	Get(ctx context.Context, id string) (*Template, error)
	Upsert(ctx context.Context, t Template) error
}

//go:embed defaults.yaml
var defaultTemplatesYAML []byte

// LoadYAML decodes and validates a list of templates.
func LoadYAML(r io.Reader) ([]Template, error) {
	var list []Template
	if err := yaml.NewDecoder(r).Decode(&list); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("templates: decode: %w", err)
	}
	seen := make(map[string]struct{}, len(list))
	for _, t := range list {
		if err := Validate(t); err != nil {
			return nil, err
		}
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidTemplate, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return list, nil
}

// LoadFile reads templates from path, or the built-in set when path is empty.
func LoadFile(path string) ([]Template, error) {
	if strings.TrimSpace(path) == "" {
		return Defaults(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("templates: open %s: %w", path, err)
	}
	defer f.Close()
	return LoadYAML(f)
}

// Defaults returns the built-in clinician templates.
func Defaults() []Template {
	list, err := LoadYAML(bytes.NewReader(defaultTemplatesYAML))
	if err != nil {
		panic(fmt.Sprintf("templates: embedded defaults invalid: %v", err))
	}
	return list
}

// MemoryRepository keeps templates in insertion order.
type MemoryRepository struct {
	mu        sync.RWMutex
	templates []Template
	index     map[string]int
	now       func() time.Time
}

// NewMemoryRepository seeds a repository with the given templates.
func NewMemoryRepository(seed []Template) *MemoryRepository {
	r := &MemoryRepository{index: make(map[string]int), now: time.Now}
	for _, t := range seed {
		_ = r.Upsert(context.Background(), t)
	}
	return r
}

func (r *MemoryRepository) ListActive(ctx context.Context) ([]Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		if t.Usable() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Template(nil), r.templates...), nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.index[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	t := r.templates[idx]
	return &t, nil
}

func (r *MemoryRepository) RecordUsage(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.index[id]
	if !ok {
		return ErrTemplateNotFound
	}
	r.templates[idx].UseCount++
	r.templates[idx].LastUsed = &at
	return nil
}

// Upsert inserts a template or replaces it in place, bumping its version.
func (r *MemoryRepository) Upsert(ctx context.Context, t Template) error {
	if err := Validate(t); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	if idx, ok := r.index[t.ID]; ok {
		prev := r.templates[idx]
		t.CreatedAt = prev.CreatedAt
		t.UseCount = prev.UseCount
		t.LastUsed = prev.LastUsed
		t.Version = prev.Version + 1
		t.UpdatedAt = now
		r.templates[idx] = t
		return nil
	}
	if t.Version == 0 {
		t.Version = 1
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	r.index[t.ID] = len(r.templates)
	r.templates = append(r.templates, t)
	return nil
}

var _ Store = (*MemoryRepository)(nil)

// CategoryStats summarises one category.
type CategoryStats struct {
	Count int `json:"count"`
	Usage int `json:"usage"`
}

// UsageEntry is one row of the most-used list.
type UsageEntry struct {
	TemplateID   string `json:"template_id"`
	ScenarioName string `json:"scenario_name"`
	UseCount     int    `json:"use_count"`
}

// Stats is the usage overview shown to template authors.
type Stats struct {
	Total      int                        `json:"total_templates"`
	Approved   int                        `json:"approved_templates"`
	Active     int                        `json:"active_templates"`
	TotalUsage int                        `json:"total_usage"`
	ByCategory map[Category]CategoryStats `json:"by_category"`
	TopUsed    []UsageEntry               `json:"top_used"`
}

// ComputeStats aggregates usage over list; TopUsed holds at most top entries.
func ComputeStats(list []Template, top int) Stats {
	s := Stats{Total: len(list), ByCategory: make(map[Category]CategoryStats)}
	for _, t := range list {
		if t.Approved {
			s.Approved++
		}
		if t.Active {
			s.Active++
		}
		s.TotalUsage += t.UseCount
		cs := s.ByCategory[t.Category]
		cs.Count++
		cs.Usage += t.UseCount
		s.ByCategory[t.Category] = cs
	}
	ranked := append([]Template(nil), list...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].UseCount > ranked[j].UseCount })
	for i := 0; i < len(ranked) && i < top; i++ {
		s.TopUsed = append(s.TopUsed, UsageEntry{
			TemplateID:   ranked[i].ID,
			ScenarioName: ranked[i].ScenarioName,
			UseCount:     ranked[i].UseCount,
		})
	}
	return s
}
