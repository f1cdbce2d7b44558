package experiment

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Condition is a named study arm exposed to the frontend.
type Condition struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Config      Config `json:"config" yaml:"config"`
}

// Seed provides one condition per combination of the three selector axes.
func Seed() []Condition {
	type axis struct {
		value string
		label string
	}
	social := []axis{{SocialCuesSentinel, "institutional"}, {"43", "personal"}}
	source := []axis{{SourceSentinel, "uncited"}, {"59", "cited"}}
	tone := []axis{{ToneSentinel, "formal"}, {"72", "casual"}}

	conditions := make([]Condition, 0, 8)
	for _, s := range social {
		for _, src := range source {
			for _, t := range tone {
				cfg := Config{SocialCues: s.value, Source: src.value, Tone: t.value}
				conditions = append(conditions, Condition{
					ID:     "c" + cfg.Code(),
					Title:  fmt.Sprintf("Climate Change AI Assistant (%s, %s, %s)", s.label, src.label, t.label),
					Config: cfg,
				})
			}
		}
	}
	return conditions
}

type conditionFile struct {
	Conditions []Condition `yaml:"conditions"`
}

// LoadFile reads conditions from a YAML document of the form
//
//	conditions:
//	  - id: arm-a
//	    title: Formal, uncited
//	    config: {socialCues: "42", source: "58", tone: "71"}
func LoadFile(path string) ([]Condition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read conditions file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML conditions document.
func Parse(raw []byte) ([]Condition, error) {
	var doc conditionFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode conditions: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Conditions))
	for i, c := range doc.Conditions {
		if c.ID == "" {
			return nil, fmt.Errorf("condition %d: id is required", i)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("condition %q defined twice", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return doc.Conditions, nil
}
