package persona

import (
	"companion-backend/internal/models"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
)

// Registry holds the mapping between persona names and their configuration.
type Registry struct {
	mu          sync.RWMutex
	personas    map[string]Persona
	defaultName string
}

// NewRegistry creates a registry whose fallback persona is defaultName.
func NewRegistry(defaultName string) *Registry {
	if strings.TrimSpace(defaultName) == "" {
		defaultName = DefaultName
	}
	return &Registry{
		personas:    make(map[string]Persona),
		defaultName: normalize(defaultName),
	}
}

// NewDefaultRegistry creates a registry populated with the built-in catalog.
func NewDefaultRegistry(defaultName string) *Registry {
	r := NewRegistry(defaultName)
	for _, p := range Defaults() {
		r.Register(p)
	}
	return r
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a persona, replacing any existing one with the same name.
func (r *Registry) Register(p Persona) {
	key := normalize(p.Name)
	p.Name = key

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.personas[key]; exists {
		log.Printf("WARN [PersonaRegistry] Persona '%s' is already registered. Overwriting.", key)
	}
	r.personas[key] = p
}

// Get retrieves a persona by name.
func (r *Registry) Get(name string) (Persona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, exists := r.personas[normalize(name)]
	if !exists {
		return Persona{}, fmt.Errorf("no persona registered with name: %s", name)
	}
	return p, nil
}

// Resolve maps a requested persona name to its configuration. An empty name
// selects the default persona; an unknown name is a validation error.
func (r *Registry) Resolve(name string) (Persona, error) {
	if strings.TrimSpace(name) == "" {
		name = r.defaultName
	}
	p, err := r.Get(name)
	if err != nil {
		return Persona{}, models.NewValidationError("persona", fmt.Sprintf("unknown persona %q", name))
	}
	return p, nil
}

// DefaultName returns the fallback persona name.
func (r *Registry) DefaultName() string {
	return r.defaultName
}

// List returns every persona sorted by name.
func (r *Registry) List() []Persona {
	r.mu.RLock()
	out := make([]Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetVoice assigns a voice to a persona.
func (r *Registry) SetVoice(name, voiceID string) error {
	key := normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	p, exists := r.personas[key]
	if !exists {
		return fmt.Errorf("no persona registered with name: %s", name)
	}
	p.VoiceID = strings.TrimSpace(voiceID)
	r.personas[key] = p
	return nil
}
