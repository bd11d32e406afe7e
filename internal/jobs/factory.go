package jobs

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"cronhost/internal/di"
)

// Factory turns a target type and entry point into a Descriptor.
type Factory interface {
	CreateRecurring(target di.Key, section string, entry EntryPoint) (*Descriptor, error)
	CreateBasic(target di.Key, entry EntryPoint) (*Descriptor, error)
}

// Section is the configured settings block of one job.
type Section struct {
	Schedule string
	// CleanupOnFinish overrides DefaultSettings when non-nil.
	CleanupOnFinish *bool
}

// SectionFactory reads schedules and settings from named sections.
// When section is empty the target key is used as the section name.
type SectionFactory struct {
	loc *time.Location

	mu       sync.RWMutex
	sections map[string]Section
}

func NewSectionFactory(loc *time.Location, sections map[string]Section) *SectionFactory {
	if loc == nil {
		loc = time.Local
	}
	m := make(map[string]Section, len(sections))
	for k, v := range sections {
		m[k] = v
	}
	return &SectionFactory{loc: loc, sections: m}
}

// Set adds or replaces one section.
func (f *SectionFactory) Set(name string, s Section) {
	f.mu.Lock()
	f.sections[name] = s
	f.mu.Unlock()
}

func (f *SectionFactory) section(name string) (Section, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sections[name]
	return s, ok
}

func (f *SectionFactory) CreateRecurring(target di.Key, section string, entry EntryPoint) (*Descriptor, error) {
	name := strings.TrimSpace(section)
	if name == "" {
		name = string(target)
	}
	sec, ok := f.section(name)
	if !ok {
		return nil, fmt.Errorf("job %s: section not configured: %w", name, ErrNoSchedule)
	}
	return NewRecurring(Spec{
		Name:     name,
		Target:   target,
		Entry:    entry,
		Schedule: sec.Schedule,
		Location: f.loc,
		Settings: sec.settings(),
	})
}

func (f *SectionFactory) CreateBasic(target di.Key, entry EntryPoint) (*Descriptor, error) {
	settings := DefaultSettings()
	if sec, ok := f.section(string(target)); ok {
		settings = sec.settings()
	}
	return NewBasic(Spec{
		Name:     string(target),
		Target:   target,
		Entry:    entry,
		Settings: settings,
	})
}

func (s Section) settings() Settings {
	st := DefaultSettings()
	if s.CleanupOnFinish != nil {
		st.CleanupOnFinish = *s.CleanupOnFinish
	}
	return st
}
