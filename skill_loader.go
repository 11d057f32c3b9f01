package plugfx

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill files follow the SKILL.md convention: a YAML frontmatter block
// with the metadata fields, then a Markdown body holding the full
// instructions.
//
//	---
//	name: code-reviewer
//	description: Review code for common issues.
//	tags: [review, quality]
//	level: intermediate
//	---
//
//	# Code Reviewer
//	...

// SkillFileName is the manifest file expected inside each skill
// directory.
const SkillFileName = "SKILL.md"

// Validation limits for skill metadata.
const (
	MaxSkillNameLength = 64
	MaxSkillDescLength = 1024
)

var skillNamePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// DiscoverSkills scans dir for subdirectories containing a SKILL.md and
// returns the parsed skills. Directories whose manifest fails to parse
// or validate are skipped.
func DiscoverSkills(dir string) ([]*Skill, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	var skills []*Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skill, err := ReadSkillFile(filepath.Join(dir, entry.Name(), SkillFileName))
		if err != nil {
			continue
		}
		skills = append(skills, skill)
	}
	return skills, nil
}

// ReadSkillFile parses and validates one SKILL.md file.
func ReadSkillFile(path string) (*Skill, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill file: %w", err)
	}
	skill, err := ParseSkill(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return skill, nil
}

// ParseSkill parses skill metadata from frontmatter and stores the
// remaining Markdown body as the instructions. The skill is validated
// before being returned.
func ParseSkill(content string) (*Skill, error) {
	meta, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}

	var skill Skill
	if err := yaml.Unmarshal([]byte(meta), &skill); err != nil {
		return nil, fmt.Errorf("frontmatter: %w", err)
	}
	skill.Instructions = strings.TrimSpace(body)

	if err := ValidateSkill(&skill); err != nil {
		return nil, err
	}
	return &skill, nil
}

// splitFrontmatter separates the YAML block between the leading "---"
// fences from the Markdown body.
func splitFrontmatter(content string) (meta, body string, err error) {
	trimmed := strings.TrimLeft(content, "\r\n \t")
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", ErrMissingFrontmatter
	}
	rest := strings.TrimPrefix(trimmed, "---")
	rest = strings.TrimPrefix(rest, "\r\n")
	rest = strings.TrimPrefix(rest, "\n")

	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return "", "", ErrMissingFrontmatter
	}
	meta = rest[:idx]
	body = rest[idx+len("\n---"):]

	// Drop the remainder of the closing fence line.
	if nl := strings.Index(body, "\n"); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	return meta, body, nil
}

// ValidateSkill checks a skill's metadata for convention compliance:
// lowercase kebab-case name within length limits and a non-empty,
// bounded description.
func ValidateSkill(s *Skill) error {
	if s.Name == "" {
		return ErrMissingName
	}
	if len(s.Name) > MaxSkillNameLength {
		return fmt.Errorf("%w: %d > %d", ErrNameTooLong, len(s.Name), MaxSkillNameLength)
	}
	if !skillNamePattern.MatchString(s.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, s.Name)
	}
	if s.Description == "" {
		return ErrMissingDescription
	}
	if len(s.Description) > MaxSkillDescLength {
		return fmt.Errorf("%w: %d > %d", ErrDescriptionTooLong, len(s.Description), MaxSkillDescLength)
	}
	return nil
}

// LoadSkillDir discovers skills under dir and registers each one with
// the registry. The owning plugin id is the skill directory's name,
// matching how SkillWatcher keys reloads. Returns the number of skills
// registered.
func (r *SkillRegistry) LoadSkillDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read skills dir: %w", err)
	}
	loaded := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skill, err := ReadSkillFile(filepath.Join(dir, entry.Name(), SkillFileName))
		if err != nil {
			continue
		}
		if err := r.Register(entry.Name(), skill); err != nil {
			continue
		}
		loaded++
	}
	return loaded, nil
}
