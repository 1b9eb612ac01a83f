package persona

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	promptx "github.com/tanpawarit/legal-lead-agents/agent/prompt"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type fileSpec struct {
	Personas []personaSpec `yaml:"personas"`
}

type personaSpec struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Role           string   `yaml:"role"`
	Specialization string   `yaml:"specialization"`
	Prompt         string   `yaml:"prompt"`
	Tools          []string `yaml:"tools"`
	Critical       bool     `yaml:"critical"`
	Model          string   `yaml:"model"`
	Temperature    *float32 `yaml:"temperature"`
}

// Catalog is the immutable set of personas available to the orchestrator.
type Catalog struct {
	byID         map[string]contractx.Persona
	specialists  []string
	coordinator  string
	communicator string
}

var _ contractx.PersonaCatalog = (*Catalog)(nil)

// Default loads the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog, promptx.Load)
}

// Parse decodes a YAML catalog and resolves each persona's prompt with loadPrompt.
func Parse(raw []byte, loadPrompt func(name string) (string, error)) (*Catalog, error) {
	if loadPrompt == nil {
		loadPrompt = promptx.Load
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var spec fileSpec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("%w: decode persona catalog: %v", contractx.ErrValidation, err)
	}

	personas := make([]contractx.Persona, 0, len(spec.Personas))
	for i, ps := range spec.Personas {
		p, err := ps.toPersona(loadPrompt)
		if err != nil {
			return nil, fmt.Errorf("persona[%d]: %w", i, err)
		}
		personas = append(personas, p)
	}
	return New(personas)
}

// New validates personas and builds a catalog from them.
func New(personas []contractx.Persona) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]contractx.Persona, len(personas))}

	for _, p := range personas {
		if err := validatePersona(p); err != nil {
			return nil, err
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate persona id %q", contractx.ErrValidation, p.ID)
		}
		c.byID[p.ID] = clonePersona(p)

		switch p.Role {
		case contractx.RoleCoordinator:
			if c.coordinator != "" {
				return nil, fmt.Errorf("%w: more than one coordinator (%s, %s)", contractx.ErrValidation, c.coordinator, p.ID)
			}
			c.coordinator = p.ID
		case contractx.RoleCommunicator:
			if c.communicator != "" {
				return nil, fmt.Errorf("%w: more than one communicator (%s, %s)", contractx.ErrValidation, c.communicator, p.ID)
			}
			c.communicator = p.ID
		default:
			c.specialists = append(c.specialists, p.ID)
		}
	}

	if c.coordinator == "" {
		return nil, fmt.Errorf("%w: catalog has no coordinator", contractx.ErrValidation)
	}
	if c.communicator == "" {
		return nil, fmt.Errorf("%w: catalog has no communicator", contractx.ErrValidation)
	}
	if len(c.specialists) == 0 {
		return nil, fmt.Errorf("%w: catalog has no specialists", contractx.ErrValidation)
	}
	return c, nil
}

func (c *Catalog) Get(id string) (contractx.Persona, bool) {
	p, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return contractx.Persona{}, false
	}
	return clonePersona(p), true
}

func (c *Catalog) Coordinator() contractx.Persona {
	return clonePersona(c.byID[c.coordinator])
}

func (c *Catalog) Communicator() contractx.Persona {
	return clonePersona(c.byID[c.communicator])
}

// Specialists returns the specialist personas in catalog order.
func (c *Catalog) Specialists() []contractx.Persona {
	out := make([]contractx.Persona, 0, len(c.specialists))
	for _, id := range c.specialists {
		out = append(out, clonePersona(c.byID[id]))
	}
	return out
}

// Resolve splits ids into known specialist ids (order preserved) and rejected ones.
func (c *Catalog) Resolve(ids []string) (known, rejected []string) {
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		p, ok := c.byID[id]
		if !ok || p.Role != contractx.RoleSpecialist {
			rejected = append(rejected, raw)
			continue
		}
		known = append(known, id)
	}
	return known, rejected
}

func (ps personaSpec) toPersona(loadPrompt func(string) (string, error)) (contractx.Persona, error) {
	promptName := strings.TrimSpace(ps.Prompt)
	if promptName == "" {
		promptName = strings.TrimSpace(ps.ID)
	}
	systemPrompt, err := loadPrompt(promptName)
	if err != nil {
		return contractx.Persona{}, err
	}

	role := contractx.PersonaRole(strings.ToLower(strings.TrimSpace(ps.Role)))
	if role == "" {
		role = contractx.RoleSpecialist
	}

	return contractx.Persona{
		ID:             strings.TrimSpace(ps.ID),
		Name:           strings.TrimSpace(ps.Name),
		Specialization: strings.TrimSpace(ps.Specialization),
		SystemPrompt:   systemPrompt,
		Tools:          ps.Tools,
		Critical:       ps.Critical,
		Role:           role,
		Model:          strings.TrimSpace(ps.Model),
		Temperature:    ps.Temperature,
	}, nil
}

func validatePersona(p contractx.Persona) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: persona id is required", contractx.ErrValidation)
	}
	switch p.Role {
	case contractx.RoleCoordinator, contractx.RoleSpecialist, contractx.RoleCommunicator:
	default:
		return fmt.Errorf("%w: persona %s has invalid role %q", contractx.ErrValidation, p.ID, p.Role)
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return fmt.Errorf("%w: persona=%s", contractx.ErrPromptMissing, p.ID)
	}
	for _, t := range p.Tools {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("%w: persona %s lists an empty tool id", contractx.ErrValidation, p.ID)
		}
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		return fmt.Errorf("%w: persona %s temperature out of range", contractx.ErrValidation, p.ID)
	}
	return nil
}

func clonePersona(p contractx.Persona) contractx.Persona {
	if p.Tools != nil {
		p.Tools = append([]string(nil), p.Tools...)
	}
	if p.Temperature != nil {
		t := *p.Temperature
		p.Temperature = &t
	}
	return p
}
