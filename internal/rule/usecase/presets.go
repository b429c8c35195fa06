package usecase

import (
	_ "embed"
	"fmt"

	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"

	"gopkg.in/yaml.v3"
)

//go:embed presets/presets.yaml
var presetsYAML []byte

type presetAction struct {
	Type  ruledomain.ActionType `yaml:"type"`
	Label string                `yaml:"label"`
}

type preset struct {
	SystemType   ruledomain.SystemType `yaml:"system_type"`
	Name         string                `yaml:"name"`
	Instructions string                `yaml:"instructions"`
	Automate     bool                  `yaml:"automate"`
	Actions      []presetAction        `yaml:"actions"`
}

func loadPresets() ([]preset, error) {
	var presets []preset
	if err := yaml.Unmarshal(presetsYAML, &presets); err != nil {
		return nil, fmt.Errorf("invalid rule presets: %w", err)
	}
	return presets, nil
}

func (p preset) rule(accountID string) *ruledomain.Rule {
	st := p.SystemType
	r := &ruledomain.Rule{
		AccountID:    accountID,
		Name:         p.Name,
		Instructions: p.Instructions,
		Enabled:      true,
		Automate:     p.Automate,
		SystemType:   &st,
		Priority:     100,
	}
	for _, a := range p.Actions {
		r.Actions = append(r.Actions, ruledomain.Action{Type: a.Type, Label: a.Label})
	}
	return r
}
