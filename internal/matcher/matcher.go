// Package matcher is the rule-based intent recognizer used when no LLM
// result is available. Everything here is a pure function of its input.
package matcher

import (
	"strings"

	"github.com/mooncakeSG/neighbourbot/internal/models"
)

// Validation is the outcome of checking an intent's required entities.
type Validation struct {
	Valid   bool     `json:"valid"`
	Missing []string `json:"missing"`
}

// Matcher matches text against a fixed, ordered list of intents.
type Matcher struct {
	intents    []models.Intent
	extractors map[string]Extractor
}

// New creates a matcher over intents with the built-in extractors registered.
func New(intents []models.Intent) *Matcher {
	return &Matcher{
		intents:    intents,
		extractors: defaultExtractors(),
	}
}

// Register installs or replaces the entity extractor for an intent name.
func (m *Matcher) Register(intentName string, extract Extractor) {
	m.extractors[intentName] = extract
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Match returns the first intent, in catalog order, with a trigger phrase
// contained in text. There is no scoring.
func (m *Matcher) Match(text string) *models.Intent {
	normalized := normalize(text)
	if normalized == "" {
		return nil
	}

	for i := range m.intents {
		for _, trigger := range m.intents[i].Triggers {
			t := normalize(trigger)
			if t != "" && strings.Contains(normalized, t) {
				intent := m.intents[i]
				return &intent
			}
		}
	}
	return nil
}

// ExtractEntities runs the intent's extractor over text. Intents without an
// extractor yield an empty map.
func (m *Matcher) ExtractEntities(text string, intent *models.Intent) map[string]any {
	entities := map[string]any{}
	if intent == nil {
		return entities
	}
	if extract, ok := m.extractors[intent.Name]; ok {
		extract(text, intent, entities)
	}
	return entities
}

// Validate checks that every required entity is present and non-empty.
func Validate(entities map[string]any, intent *models.Intent) Validation {
	result := Validation{Valid: true, Missing: []string{}}
	if intent == nil || len(intent.EntitiesRequired) == 0 {
		return result
	}

	for _, key := range intent.EntitiesRequired {
		if isEmpty(entities[key]) {
			result.Missing = append(result.Missing, key)
		}
	}
	result.Valid = len(result.Missing) == 0
	return result
}

func isEmpty(v any) bool {
	switch value := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(value) == ""
	}
	return false
}

// Process matches text and, on a match, extracts and validates entities.
func (m *Matcher) Process(text string) (*models.Intent, map[string]any, Validation) {
	intent := m.Match(text)
	if intent == nil {
		return nil, map[string]any{}, Validation{Valid: true, Missing: []string{}}
	}
	entities := m.ExtractEntities(text, intent)
	return intent, entities, Validate(entities, intent)
}
