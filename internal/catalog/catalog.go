// Package catalog loads the static intent catalog and chatbot settings.
// A catalog is immutable once loaded.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mooncakeSG/neighbourbot/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed default.json
var defaultCatalog []byte

// ErrIntentNotFound is returned by Lookup for names the catalog does not hold.
var ErrIntentNotFound = errors.New("intent not found")

// Fallback is the reply used when no intent matches.
type Fallback struct {
	Message     string   `json:"message" yaml:"message"`
	Suggestions []string `json:"suggestions" yaml:"suggestions"`
}

// Responses holds the generic error and success templates.
type Responses struct {
	Error   string `json:"error" yaml:"error"`
	Success string `json:"success" yaml:"success"`
}

// Settings holds the non-intent parts of the chatbot configuration.
type Settings struct {
	Name           string    `json:"name" yaml:"name"`
	WelcomeMessage string    `json:"welcome_message" yaml:"welcome_message"`
	APIBase        string    `json:"api_base" yaml:"api_base"`
	Fallback       Fallback  `json:"fallback" yaml:"fallback"`
	Responses      Responses `json:"responses" yaml:"responses"`
}

type chatbotConfig struct {
	Settings `yaml:",inline"`
	Intents  []models.Intent `json:"intents" yaml:"intents"`
}

type file struct {
	ChatbotConfig chatbotConfig `json:"chatbot_config" yaml:"chatbot_config"`
}

// Catalog is the read-only set of supported intents.
type Catalog struct {
	settings Settings
	intents  []models.Intent
	byName   map[string]int
}

// Load reads a catalog from path. JSON is assumed unless the extension is
// .yaml or .yml. An empty path loads the embedded default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(defaultCatalog, "json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	return Parse(data, format)
}

// Parse decodes catalog data in the given format ("json" or "yaml").
func Parse(data []byte, format string) (*Catalog, error) {
	var f file
	var err error
	switch format {
	case "yaml":
		err = yaml.Unmarshal(data, &f)
	case "json":
		err = json.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	return New(f.ChatbotConfig.Settings, f.ChatbotConfig.Intents)
}

// New validates intents and builds a catalog around them.
func New(settings Settings, intents []models.Intent) (*Catalog, error) {
	if len(intents) == 0 {
		return nil, errors.New("catalog has no intents")
	}

	c := &Catalog{
		settings: settings,
		intents:  make([]models.Intent, len(intents)),
		byName:   make(map[string]int, len(intents)),
	}
	copy(c.intents, intents)

	for i, intent := range c.intents {
		if err := validateIntent(intent); err != nil {
			return nil, fmt.Errorf("intent %d: %w", i, err)
		}
		if _, dup := c.byName[intent.Name]; dup {
			return nil, fmt.Errorf("duplicate intent %q", intent.Name)
		}
		c.byName[intent.Name] = i
	}
	return c, nil
}

func validateIntent(intent models.Intent) error {
	if strings.TrimSpace(intent.Name) == "" {
		return errors.New("missing name")
	}
	if len(intent.Triggers) == 0 {
		return fmt.Errorf("%s: no triggers", intent.Name)
	}
	if !intent.Action.Method.Valid() {
		return fmt.Errorf("%s: unsupported method %q", intent.Name, intent.Action.Method)
	}
	if intent.Action.Endpoint == "" {
		return fmt.Errorf("%s: missing endpoint", intent.Name)
	}
	return nil
}

// Lookup returns a copy of the named intent.
func (c *Catalog) Lookup(name string) (*models.Intent, error) {
	i, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIntentNotFound, name)
	}
	intent := c.intents[i]
	return &intent, nil
}

// Intents returns the intents in catalog order.
func (c *Catalog) Intents() []models.Intent {
	out := make([]models.Intent, len(c.intents))
	copy(out, c.intents)
	return out
}

// Settings returns the catalog-wide settings.
func (c *Catalog) Settings() Settings { return c.settings }

// Suggestions returns the fallback suggestion chips.
func (c *Catalog) Suggestions() []string {
	return append([]string(nil), c.settings.Fallback.Suggestions...)
}

// WelcomeMessage returns the greeting shown when a session starts.
func (c *Catalog) WelcomeMessage() string {
	if c.settings.WelcomeMessage == "" {
		return "Hi! How can I help you today?"
	}
	return c.settings.WelcomeMessage
}

// FallbackMessage returns the reply for unrecognized input.
func (c *Catalog) FallbackMessage() string {
	if c.settings.Fallback.Message == "" {
		return "I'm not sure I understood that. Could you rephrase?"
	}
	return c.settings.Fallback.Message
}

// ErrorMessage returns the generic error reply.
func (c *Catalog) ErrorMessage() string {
	if c.settings.Responses.Error == "" {
		return "Sorry, something went wrong. Please try again."
	}
	return c.settings.Responses.Error
}

// SuccessMessage fills the configured success template with message.
func (c *Catalog) SuccessMessage(message string) string {
	if c.settings.Responses.Success == "" {
		return message
	}
	return strings.ReplaceAll(c.settings.Responses.Success, "{{message}}", message)
}
