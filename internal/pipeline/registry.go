package pipeline

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/taskloop-dev/taskloop/internal/model"
)

// defaultTierPhases is the built-in mapping from complexity tier to the
// post-assessment phase list. Impact analysis joins at complex and above.
var defaultTierPhases = map[model.ComplexityTier][]string{
	model.ComplexitySimple:   {PhaseContext, PhaseSpecWriting, PhaseValidation},
	model.ComplexityStandard: {PhaseContext, PhaseSpecWriting, PhaseValidation},
	model.ComplexityComplex:  {PhaseContext, PhaseImpact, PhaseSpecWriting, PhaseValidation},
	model.ComplexityCritical: {PhaseContext, PhaseImpact, PhaseSpecWriting, PhaseValidation},
}

// Registry holds the registered phases and the per-tier phase lists.
type Registry struct {
	phases     map[string]Phase
	tierPhases map[model.ComplexityTier][]string
}

// NewRegistry builds an empty registry with the default tier mapping.
func NewRegistry() *Registry {
	tiers := make(map[model.ComplexityTier][]string, len(defaultTierPhases))
	for tier, phases := range defaultTierPhases {
		tiers[tier] = append([]string(nil), phases...)
	}
	return &Registry{
		phases:     map[string]Phase{},
		tierPhases: tiers,
	}
}

// Register adds a phase, replacing any previous phase of the same name.
func (r *Registry) Register(p Phase) {
	r.phases[p.Name()] = p
}

// Phase looks up a registered phase by name.
func (r *Registry) Phase(name string) (Phase, bool) {
	p, ok := r.phases[name]
	return p, ok
}

// Names returns the registered phase names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.phases))
	for name := range r.phases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PhasesForTier returns the post-assessment phase list for a tier.
func (r *Registry) PhasesForTier(tier model.ComplexityTier) []string {
	if phases, ok := r.tierPhases[tier]; ok {
		return phases
	}
	return r.tierPhases[model.ComplexityStandard]
}

// registryConfig is the YAML shape for overriding tier phase lists.
type registryConfig struct {
	Tiers map[string][]string `yaml:"tiers"`
}

// LoadTierOverrides applies per-tier phase lists from a YAML file. A
// missing file is a no-op; a malformed file is an error.
func (r *Registry) LoadTierOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading phase registry config: %w", err)
	}
	var cfg registryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing phase registry config: %w", err)
	}
	for tier, phases := range cfg.Tiers {
		switch t := model.ComplexityTier(tier); t {
		case model.ComplexitySimple, model.ComplexityStandard, model.ComplexityComplex, model.ComplexityCritical:
			r.tierPhases[t] = phases
		default:
			return fmt.Errorf("unknown complexity tier %q in phase registry config", tier)
		}
	}
	return nil
}
