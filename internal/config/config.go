package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models civicdesk.yml.
type Config struct {
	Service struct {
		ID string `yaml:"id"`
	} `yaml:"service"`
	SLA struct {
		// Hours until deadline, keyed by priority.
		Hours map[string]int `yaml:"hours"`
	} `yaml:"sla"`
	Departments []string `yaml:"departments"`
	Geocode     struct {
		// Base URL of the reverse geocoder. Empty disables lookups.
		URL string `yaml:"url"`
		// display_name is truncated to this many comma-separated parts.
		Parts int `yaml:"parts"`
	} `yaml:"geocode"`
	Auth struct {
		// HS256 secret for admin attribution tokens. Empty disables JWT.
		JWTSecret string `yaml:"jwt_secret"`
		// Accept the X-Actor-Name header instead of a token. Dev only.
		AllowHeaderActor bool `yaml:"allow_header_actor"`
	} `yaml:"auth"`
	Bot struct {
		FAQ       []FAQEntry `yaml:"faq"`
		Fallbacks []string   `yaml:"fallbacks"`
	} `yaml:"bot"`
}

type FAQEntry struct {
	Keywords []string `yaml:"keywords"`
	Reply    string   `yaml:"reply"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with civicdesk config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.ID == "" {
		return fmt.Errorf("config.service.id is required")
	}
	if len(c.SLA.Hours) == 0 {
		return fmt.Errorf("config.sla.hours is required")
	}
	for priority, hours := range c.SLA.Hours {
		if priority == "" {
			return fmt.Errorf("config.sla.hours contains empty priority")
		}
		if hours <= 0 {
			return fmt.Errorf("sla hours for %s must be positive", priority)
		}
	}
	if _, ok := c.SLA.Hours["Low"]; !ok {
		return fmt.Errorf("config.sla.hours must include Low (the classification default)")
	}
	for i, dept := range c.Departments {
		if strings.TrimSpace(dept) == "" {
			return fmt.Errorf("config.departments[%d] is empty", i)
		}
	}
	if c.Geocode.Parts < 0 {
		return fmt.Errorf("config.geocode.parts must not be negative")
	}
	for i, entry := range c.Bot.FAQ {
		if len(entry.Keywords) == 0 {
			return fmt.Errorf("bot.faq[%d] has no keywords", i)
		}
		if entry.Reply == "" {
			return fmt.Errorf("bot.faq[%d] has empty reply", i)
		}
	}
	return nil
}

// SLAHours returns the configured deadline window for a priority,
// falling back to the Low window for unknown priorities.
func (c *Config) SLAHours(priority string) int {
	if h, ok := c.SLA.Hours[priority]; ok {
		return h
	}
	return c.SLA.Hours["Low"]
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "civicdesk.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(serviceID string) string {
	return fmt.Sprintf(defaultTemplate, serviceID)
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

// Default returns the default Config struct for a service.
func Default(serviceID string) *Config {
	var cfg Config
	cfg.Service.ID = serviceID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, serviceID))).Decode(&cfg)
	return &cfg
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

const defaultTemplate = `service:
  id: %s

sla:
  hours:
    High: 24
    Medium: 72
    Low: 168

departments:
  - Sanitation
  - Water Supply
  - Roads
  - Electricity
  - Public Safety

geocode:
  url: https://nominatim.openstreetmap.org
  parts: 3

auth:
  jwt_secret: ""
  allow_header_actor: true

bot:
  faq:
    - keywords: [submit, file, new, complaint, register]
      reply: "To submit a complaint, use the Report Issue form. Add a photo and your location so the right department can act quickly."
    - keywords: [status, track, progress, update]
      reply: "You can track your complaints anytime. Ask me 'any pending issues?' and I'll pull up your latest updates."
    - keywords: [time, long, deadline, days, when]
      reply: "High priority complaints are handled within 24 hours, Medium within 3 days and Low within 7 days."
    - keywords: [department, who, handles, assigned]
      reply: "Each complaint is classified and routed to the responsible department. You can see the assignment on your complaint card."
    - keywords: [photo, image, picture, upload]
      reply: "Attaching a photo is optional but helps the department verify and prioritize your complaint."
  fallbacks:
    - "I'm here to help with civic complaints. You can ask about submitting, tracking or resolution timelines."
    - "Could you rephrase that? Try asking about your pending or resolved complaints."
`
