package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Role kinds. Core roles sit on the routing chain; action officers only
// receive delegated tasks.
const (
	KindCore          = "core"
	KindActionOfficer = "action_officer"
)

// Config models caseline.yml: the role registry and the case transition
// table. Both are data-driven so deployments can rename roles or add
// action officers without code changes.
type Config struct {
	App struct {
		Name string `yaml:"name"`
	} `yaml:"app"`
	Roles       map[string]Role       `yaml:"roles"`
	Transitions map[string]Transition `yaml:"transitions"`
	Webhooks    []WebhookConfig       `yaml:"webhooks,omitempty"`
}

// WebhookConfig describes one endpoint that receives audit events.
// An empty Events list subscribes to everything.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

type Role struct {
	Kind      string `yaml:"kind"`
	Name      string `yaml:"name"`
	ShortName string `yaml:"short_name"`
	Title     string `yaml:"title"`
	Color     string `yaml:"color"`
}

// Transition is one edge of the case routing graph. Either Recipient or
// RecipientOptions is set. KeepHolder marks task-level edges (delegation,
// work submission) where case custody does not move.
type Transition struct {
	From             string   `yaml:"from"`
	Recipient        string   `yaml:"recipient,omitempty"`
	RecipientOptions []string `yaml:"recipient_options,omitempty"`
	Actions          []string `yaml:"actions"`
	ImplicitAction   string   `yaml:"implicit_action,omitempty"`
	KeepHolder       bool     `yaml:"keep_holder,omitempty"`
}

// Load reads and validates config from workspace, falling back to the
// built-in defaults when caseline.yml does not exist.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the role registry and transition table are coherent.
func (c *Config) Validate() error {
	if len(c.Roles) == 0 {
		return fmt.Errorf("config.roles is required")
	}
	for _, id := range []string{"dto", "ea", "cs"} {
		r, ok := c.Roles[id]
		if !ok {
			return fmt.Errorf("config.roles must include %s", id)
		}
		if r.Kind != KindCore {
			return fmt.Errorf("role %s must have kind %s", id, KindCore)
		}
	}
	hasAO := false
	for id, r := range c.Roles {
		if id == "" {
			return fmt.Errorf("config.roles contains empty role id")
		}
		switch r.Kind {
		case KindCore:
		case KindActionOfficer:
			hasAO = true
		default:
			return fmt.Errorf("role %s has unknown kind %q", id, r.Kind)
		}
		if r.Name == "" {
			return fmt.Errorf("role %s has no name", id)
		}
	}
	if !hasAO {
		return fmt.Errorf("config.roles must include at least one %s role", KindActionOfficer)
	}
	if len(c.Transitions) == 0 {
		return fmt.Errorf("config.transitions is required")
	}
	for key, t := range c.Transitions {
		if _, ok := c.Roles[t.From]; !ok {
			return fmt.Errorf("transition %s: unknown from role %s", key, t.From)
		}
		if t.Recipient == "" && len(t.RecipientOptions) == 0 {
			return fmt.Errorf("transition %s: recipient or recipient_options required", key)
		}
		if t.Recipient != "" {
			if _, ok := c.Roles[t.Recipient]; !ok {
				return fmt.Errorf("transition %s: unknown recipient %s", key, t.Recipient)
			}
		}
		for _, r := range t.RecipientOptions {
			if _, ok := c.Roles[r]; !ok {
				return fmt.Errorf("transition %s: unknown recipient option %s", key, r)
			}
		}
		if len(t.Actions) == 0 {
			return fmt.Errorf("transition %s: actions required", key)
		}
		if t.ImplicitAction == "" && len(t.Actions) > 1 {
			continue
		}
		if t.ImplicitAction == "" {
			t.ImplicitAction = t.Actions[0]
			c.Transitions[key] = t
		}
	}
	return nil
}

// RoleExists reports whether id is a registered role.
func (c *Config) RoleExists(id string) bool {
	_, ok := c.Roles[id]
	return ok
}

// IsActionOfficer reports whether id names an action-officer role.
func (c *Config) IsActionOfficer(id string) bool {
	r, ok := c.Roles[id]
	return ok && r.Kind == KindActionOfficer
}

// ActionOfficers returns action-officer role ids in stable order.
func (c *Config) ActionOfficers() []string {
	var ids []string
	for id, r := range c.Roles {
		if r.Kind == KindActionOfficer {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// RoleName returns the display name for a role, or the raw id when the
// role is unknown (deleted from config after data was written).
func (c *Config) RoleName(id string) string {
	if r, ok := c.Roles[id]; ok {
		return r.Name
	}
	return id
}

// Transition looks up a transition by key.
func (c *Config) Transition(key string) (Transition, bool) {
	t, ok := c.Transitions[key]
	return t, ok
}

// ResolveRecipient validates the recipient choice for a transition. For
// fixed-recipient transitions the argument may be empty.
func (t Transition) ResolveRecipient(chosen string) (string, error) {
	if t.Recipient != "" {
		if chosen != "" && chosen != t.Recipient {
			return "", fmt.Errorf("recipient %s not allowed, transition targets %s", chosen, t.Recipient)
		}
		return t.Recipient, nil
	}
	for _, opt := range t.RecipientOptions {
		if opt == chosen {
			return chosen, nil
		}
	}
	return "", fmt.Errorf("recipient %s is not an option for this transition", chosen)
}

// ResolveAction validates the action choice, falling back to the
// transition's implicit action.
func (t Transition) ResolveAction(chosen string) (string, error) {
	if chosen == "" {
		if t.ImplicitAction != "" {
			return t.ImplicitAction, nil
		}
		return "", fmt.Errorf("action required, one of %v", t.Actions)
	}
	for _, a := range t.Actions {
		if a == chosen {
			return chosen, nil
		}
	}
	return "", fmt.Errorf("action %s not allowed, one of %v", chosen, t.Actions)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseline.yml")
}

// Default returns the built-in registry: the standard DTO/EA/CS chain
// and three action officers.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `app:
  name: caseline

roles:
  dto:
    kind: core
    name: Document Transfer Officer
    short_name: DTO
    title: Registry Unit
    color: "#6366f1"
  ea:
    kind: core
    name: Executive Assistant
    short_name: EA
    title: Office of the CS
    color: "#ec4899"
  cs:
    kind: core
    name: Chief Secretary
    short_name: CS
    title: Head of Public Service
    color: "#f59e0b"
  ao:
    kind: action_officer
    name: Action Officer
    short_name: AO
    title: Budget & Planning
    color: "#10b981"
  ao2:
    kind: action_officer
    name: Action Officer 2
    short_name: AO2
    title: Policy & Legal
    color: "#0ea5e9"
  ao3:
    kind: action_officer
    name: Action Officer 3
    short_name: AO3
    title: Infrastructure
    color: "#8b5cf6"

transitions:
  dto-ea:
    from: dto
    recipient: ea
    actions: [triage]
    implicit_action: triage
  dto-cs:
    from: dto
    recipient: cs
    actions: [urgent-review]
    implicit_action: urgent-review
  ea-cs:
    from: ea
    recipient: cs
    actions: [review, approve, sign]
  ea-sendback:
    from: ea
    recipient: dto
    actions: [revision]
    implicit_action: revision
  cs-ao:
    from: cs
    recipient: ao
    actions: [delegation]
    implicit_action: delegation
    keep_holder: true
  cs-sendback:
    from: cs
    recipient_options: [ea, ao]
    actions: [revision]
    implicit_action: revision
  cs-reject:
    from: cs
    recipient: dto
    actions: [rejected]
    implicit_action: rejected
  ao-cs:
    from: ao
    recipient: cs
    actions: [review]
    implicit_action: review
    keep_holder: true

# webhooks:
#   - url: https://hooks.example.internal/caseline
#     secret: changeme
#     events: [forwarded, rejected, closed]
`
