package plugfx

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gobwas/glob"
)

// Skill is descriptive, non-executable metadata a plugin exposes about
// its own capabilities. Skills have zero interaction with the dispatch
// path; they exist so external callers (discovery UIs, LLM tool
// pickers) can enumerate plugin capabilities without executing them.
type Skill struct {
	PluginID string `yaml:"-" json:"pluginId,omitempty"`

	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`

	// Instructions is the full usage text (the Markdown body of a
	// SKILL.md file). Omitted from manifests; fetched on demand.
	Instructions string `yaml:"-" json:"-"`

	Tags       []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Version    string   `yaml:"version,omitempty" json:"version,omitempty"`
	Level      string   `yaml:"level,omitempty" json:"level,omitempty"`
	Author     string   `yaml:"author,omitempty" json:"author,omitempty"`
	References []string `yaml:"references,omitempty" json:"references,omitempty"`
}

// SkillSummary is the low-cost discovery view of a skill: everything
// except the instructions.
type SkillSummary struct {
	PluginID    string   `json:"pluginId,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Version     string   `json:"version,omitempty"`
	Level       string   `json:"level,omitempty"`
}

// SkillRegistry maps plugin identity to capability metadata. It is
// written during plugin setup and read by introspection callers only.
type SkillRegistry struct {
	mu       sync.RWMutex
	byPlugin map[string]*Skill
	byName   map[string]*Skill

	// Secondary indexes for filtered lookups.
	byTag   map[string][]*Skill
	byLevel map[string][]*Skill
}

// NewSkillRegistry creates an empty skill registry.
func NewSkillRegistry() *SkillRegistry {
	return &SkillRegistry{
		byPlugin: make(map[string]*Skill),
		byName:   make(map[string]*Skill),
		byTag:    make(map[string][]*Skill),
		byLevel:  make(map[string][]*Skill),
	}
}

// Register stores skill as the one record for pluginID, overwriting any
// previous record for that plugin.
func (r *SkillRegistry) Register(pluginID string, skill *Skill) error {
	if skill == nil || skill.Name == "" {
		return ErrMissingName
	}

	// Store a private copy. Callers keep their pointer and may mutate
	// it afterwards; registry state must not change with it.
	stored := *skill
	stored.PluginID = pluginID
	stored.Tags = slices.Clone(skill.Tags)
	stored.References = slices.Clone(skill.References)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byPlugin[pluginID]; ok {
		r.dropLocked(prev)
	}
	// A name has exactly one owner. Registering an already-claimed name
	// under a different plugin id evicts the previous owner's record so
	// the indexes never hold two skills resolving to one name.
	if holder, ok := r.byName[stored.Name]; ok {
		r.dropLocked(holder)
	}

	r.byPlugin[pluginID] = &stored
	r.byName[stored.Name] = &stored
	for _, tag := range stored.Tags {
		r.byTag[tag] = append(r.byTag[tag], &stored)
	}
	if stored.Level != "" {
		r.byLevel[stored.Level] = append(r.byLevel[stored.Level], &stored)
	}
	return nil
}

// remove deletes the record owned by pluginID, if any. Called by plugin
// unregistration.
func (r *SkillRegistry) remove(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	skill, ok := r.byPlugin[pluginID]
	if !ok {
		return
	}
	r.dropLocked(skill)
}

// dropLocked erases one record from every map and index. Matching is by
// record identity, never by name, so evicting one plugin's record can
// not disturb another plugin's entries. Callers must hold r.mu.
func (r *SkillRegistry) dropLocked(skill *Skill) {
	delete(r.byPlugin, skill.PluginID)
	if r.byName[skill.Name] == skill {
		delete(r.byName, skill.Name)
	}
	for _, tag := range skill.Tags {
		r.byTag[tag] = dropSkill(r.byTag[tag], skill)
		if len(r.byTag[tag]) == 0 {
			delete(r.byTag, tag)
		}
	}
	if skill.Level != "" {
		r.byLevel[skill.Level] = dropSkill(r.byLevel[skill.Level], skill)
		if len(r.byLevel[skill.Level]) == 0 {
			delete(r.byLevel, skill.Level)
		}
	}
}

func dropSkill(skills []*Skill, skill *Skill) []*Skill {
	for i, s := range skills {
		if s == skill {
			return append(skills[:i], skills[i+1:]...)
		}
	}
	return skills
}

// Get returns the full record, including instructions, for a skill name.
func (r *SkillRegistry) Get(name string) (*Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	skill, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, name)
	}
	return skill, nil
}

// ForPlugin returns the record registered by pluginID.
func (r *SkillRegistry) ForPlugin(pluginID string) (*Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	skill, ok := r.byPlugin[pluginID]
	if !ok {
		return nil, fmt.Errorf("%w: plugin %s", ErrSkillNotFound, pluginID)
	}
	return skill, nil
}

// All returns every registered skill.
func (r *SkillRegistry) All() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Skill, 0, len(r.byName))
	for _, skill := range r.byName {
		out = append(out, skill)
	}
	return out
}

// ByTag returns all skills carrying the given tag.
func (r *SkillRegistry) ByTag(tag string) []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	skills := r.byTag[tag]
	out := make([]*Skill, len(skills))
	copy(out, skills)
	return out
}

// ByLevel returns all skills declaring the given level.
func (r *SkillRegistry) ByLevel(level string) []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	skills := r.byLevel[level]
	out := make([]*Skill, len(skills))
	copy(out, skills)
	return out
}

// Match returns skills whose name or any tag matches the glob pattern,
// e.g. "git-*" or "*review*".
func (r *SkillRegistry) Match(pattern string) ([]*Skill, error) {
	matcher, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Skill
	for _, skill := range r.byName {
		if matcher.Match(skill.Name) {
			out = append(out, skill)
			continue
		}
		for _, tag := range skill.Tags {
			if matcher.Match(tag) {
				out = append(out, skill)
				break
			}
		}
	}
	return out, nil
}

// Manifest returns discovery summaries for every skill, without the
// instructions bodies.
func (r *SkillRegistry) Manifest() []SkillSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SkillSummary, 0, len(r.byName))
	for _, skill := range r.byName {
		out = append(out, SkillSummary{
			PluginID:    skill.PluginID,
			Name:        skill.Name,
			Description: skill.Description,
			Tags:        skill.Tags,
			Version:     skill.Version,
			Level:       skill.Level,
		})
	}
	return out
}
