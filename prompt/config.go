package prompt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type (
	// Catalog is the YAML form of a section catalog.
	Catalog struct {
		Policy   PolicyConfig      `yaml:"policy"`
		Tones    map[string]string `yaml:"tones"`
		Sections []SectionConfig   `yaml:"sections"`
	}

	// PolicyConfig is the YAML form of Policy.
	PolicyConfig struct {
		FirstMessage string `yaml:"first_message"`
		FollowUp     string `yaml:"follow_up"`
	}

	// SectionConfig is the YAML form of Section.
	SectionConfig struct {
		ID            string   `yaml:"id"`
		Name          string   `yaml:"name"`
		Content       string   `yaml:"content"`
		Topics        []string `yaml:"topics"`
		AlwaysInclude bool     `yaml:"always_include"`
		Priority      int      `yaml:"priority"`
	}
)

// LoadCatalog reads a section catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and validates a YAML section catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := cat.validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *Catalog) validate() error {
	if err := validateMode(c.Policy.FirstMessage); err != nil {
		return fmt.Errorf("policy first_message: %w", err)
	}
	if err := validateMode(c.Policy.FollowUp); err != nil {
		return fmt.Errorf("policy follow_up: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Sections))
	for i, s := range c.Sections {
		if s.ID == "" {
			return fmt.Errorf("section %d: id is required", i)
		}
		if s.Content == "" {
			return fmt.Errorf("section %q: content is required", s.ID)
		}
		if _, ok := seen[s.ID]; ok {
			return fmt.Errorf("section %q: duplicate id", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

func validateMode(mode string) error {
	switch Mode(mode) {
	case "", ModeFull, ModeSelective:
		return nil
	}
	return fmt.Errorf("unknown mode %q", mode)
}

// SectionList returns the configured sections.
func (c *Catalog) SectionList() []Section {
	out := make([]Section, 0, len(c.Sections))
	for _, s := range c.Sections {
		out = append(out, Section{
			ID:            s.ID,
			Name:          s.Name,
			Content:       s.Content,
			Topics:        s.Topics,
			AlwaysInclude: s.AlwaysInclude,
			Priority:      s.Priority,
		})
	}
	return out
}

// SelectionPolicy returns the configured policy.
func (c *Catalog) SelectionPolicy() Policy {
	return Policy{
		FirstMessage: Mode(c.Policy.FirstMessage),
		FollowUp:     Mode(c.Policy.FollowUp),
	}
}

// Optimizer builds an Optimizer from the catalog.
func (c *Catalog) Optimizer() *Optimizer {
	return NewOptimizer(c.SectionList(), WithPolicy(c.SelectionPolicy()), WithTones(c.Tones))
}
