package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models formline.yml: the workspace owner, the factory field
// catalog offered by the builder palette, default styling for new forms,
// and outbound webhooks fed from the event log.
type Config struct {
	Owner struct {
		ID   string `yaml:"id"`
		Slug string `yaml:"slug"`
		Name string `yaml:"name"`
	} `yaml:"owner"`
	Factory struct {
		Catalog map[string]FactoryField `yaml:"catalog"`
	} `yaml:"factory"`
	Style struct {
		BackgroundColor string `yaml:"background_color"`
	} `yaml:"style"`
	Intake struct {
		MaxAnswerLength int `yaml:"max_answer_length"`
	} `yaml:"intake"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type FactoryField struct {
	Label string `yaml:"label"`
	Type  string `yaml:"type"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

var factoryKeys = []string{"first_name", "last_name", "phone", "email", "zip", "consent_to_contact"}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Owner.ID == "" {
		return fmt.Errorf("config.owner.id is required")
	}
	if c.Owner.Slug == "" {
		return fmt.Errorf("config.owner.slug is required")
	}
	if c.Style.BackgroundColor == "" {
		return fmt.Errorf("config.style.background_color is required")
	}
	if !strings.HasPrefix(c.Style.BackgroundColor, "#") {
		return fmt.Errorf("config.style.background_color must be a #rrggbb value")
	}
	for key, field := range c.Factory.Catalog {
		if !knownFactoryKey(key) {
			return fmt.Errorf("config.factory.catalog has unknown key %s", key)
		}
		if field.Label == "" {
			return fmt.Errorf("factory field %s has empty label", key)
		}
	}
	if c.Intake.MaxAnswerLength < 0 {
		return fmt.Errorf("config.intake.max_answer_length must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

func knownFactoryKey(key string) bool {
	for _, k := range factoryKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "formline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with fl owner init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
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

// GenerateDefault returns default config YAML for an owner.
func GenerateDefault(ownerID, slug string) string {
	return fmt.Sprintf(defaultTemplate, ownerID, slug)
}

// Default returns the default Config struct for an owner.
func Default(ownerID string) *Config {
	var cfg Config
	slug := ownerID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, ownerID, slug))).Decode(&cfg)
	cfg.Owner.ID = ownerID
	cfg.Owner.Slug = slug
	return &cfg
}

const defaultTemplate = `owner:
  id: %s
  slug: %s

factory:
  catalog:
    first_name:
      label: "First Name"
      type: text
    last_name:
      label: "Last Name"
      type: text
    phone:
      label: "Phone"
      type: phone
    email:
      label: "Email"
      type: email
    zip:
      label: "Zip Code"
      type: text
    consent_to_contact:
      label: "Consent to Contact"
      type: checkbox

style:
  background_color: "#ffffff"

intake:
  max_answer_length: 4000
`
