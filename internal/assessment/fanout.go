package assessment

import (
	"context"
	"fmt"
	"sync"

	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

// Fanout saves to a primary sink and then to best-effort secondaries such as
// the archive. Only the primary's failure is returned.
type Fanout struct {
	primary     Sink
	secondaries []Sink
	logger      *logging.Logger
}

func NewFanout(primary Sink, logger *logging.Logger, secondaries ...Sink) *Fanout {
	if logger == nil {
		logger = logging.Default()
	}
	f := &Fanout{primary: primary, logger: logger}
	for _, s := range secondaries {
		if s != nil {
			f.secondaries = append(f.secondaries, s)
		}
	}
	return f
}

func (f *Fanout) Save(ctx context.Context, a *SymptomAssessment) error {
	if f.primary != nil {
		if err := f.primary.Save(ctx, a); err != nil {
			return fmt.Errorf("assessment: primary sink: %w", err)
		}
	}
	for _, s := range f.secondaries {
		if err := s.Save(ctx, a); err != nil {
			f.logger.Warn("secondary assessment sink failed", "report_id", a.ReportID, "error", err)
		}
	}
	return nil
}

// MemorySink keeps reports in process, keyed by report id.
type MemorySink struct {
	mu      sync.Mutex
	reports map[string]*SymptomAssessment
	order   []string
	// Err, when set, is returned by Save without storing.
	Err error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{reports: make(map[string]*SymptomAssessment)}
}

func (m *MemorySink) Save(ctx context.Context, a *SymptomAssessment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.reports[a.ReportID]; !ok {
		m.order = append(m.order, a.ReportID)
	}
	cp := *a
	m.reports[a.ReportID] = &cp
	return nil
}

// Get returns a stored report or nil.
func (m *MemorySink) Get(reportID string) *SymptomAssessment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reports[reportID]
}

// All returns reports in save order.
func (m *MemorySink) All() []*SymptomAssessment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*SymptomAssessment, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.reports[id])
	}
	return out
}

// SetErr makes subsequent saves fail with err, or succeed again when err is nil.
func (m *MemorySink) SetErr(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}

var (
	_ Sink = (*Fanout)(nil)
	_ Sink = (*MemorySink)(nil)
)
