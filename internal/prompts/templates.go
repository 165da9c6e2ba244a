package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mooncakeSG/neighbourbot/internal/models"
)

// SystemPrompt instructs the model to answer with intent JSON.
const SystemPrompt = `You are NeighbourBot, an AI assistant for a hyper-local neighbourhood social network platform in South Africa.

Your purpose is to help users with:
- Viewing and creating neighbourhood posts and alerts
- Searching and listing items in the marketplace
- Finding local businesses
- Managing notifications
- Updating their neighbourhood

Available actions you can help users with:
%s
Guidelines:
- Be friendly, helpful, and conversational
- Understand user queries and map them to available actions
- If a user wants to perform an action, clearly identify which intent it matches
- Extract the required entities for that action from the user's message
- For ambiguous queries, ask clarifying questions
- Keep responses concise and natural
- Use South African context when relevant (e.g., currency in R, local terminology)
%s
When responding, ALWAYS format your response as valid JSON. Use this exact format:

If a user wants to perform an action:
{
  "intent": "intent_name",
  "entities": { "key": "value" },
  "response": "Your natural language response to the user"
}

If no clear intent matches:
{
  "intent": null,
  "entities": {},
  "response": "Your helpful response explaining what you can help with"
}

IMPORTANT: Only return valid JSON. Do not include any text before or after the JSON object.`

// FormatSystemPrompt is the system message for formatting calls.
const FormatSystemPrompt = "You are NeighbourBot, a helpful neighbourhood assistant. Generate concise, friendly responses."

// FormatPrompt asks the model to phrase API data for the user.
const FormatPrompt = `You are NeighbourBot. A user asked: "%s"

The API returned the following data:
%s

Intent: %s

Generate a friendly, natural response summarizing this data for the user. Be concise and helpful. If there's no data, explain that clearly.`

// CheckPrompt is the minimal exchange used by health checks.
const CheckPrompt = "You are a test assistant. Respond with 'OK'."

// BuildSystemPrompt renders the interpretation prompt for the given catalog.
// neighbourhoodName may be empty.
func BuildSystemPrompt(intents []models.Intent, neighbourhoodName string) string {
	var location string
	if neighbourhoodName != "" {
		location = fmt.Sprintf("- The user is in the neighbourhood: %s\n", neighbourhoodName)
	}
	return fmt.Sprintf(SystemPrompt, buildActionsSection(intents), location)
}

func buildActionsSection(intents []models.Intent) string {
	var builder strings.Builder

	for _, intent := range intents {
		builder.WriteString(fmt.Sprintf("- %s: %s", intent.Name, strings.Join(intent.Triggers, ", ")))
		if len(intent.EntitiesRequired) > 0 {
			builder.WriteString(fmt.Sprintf(" (requires [%s])", strings.Join(intent.EntitiesRequired, ", ")))
		}
		builder.WriteString("\n")
	}

	return builder.String()
}

// NeighbourhoodName picks the display name for the prompt out of a
// conversation context map.
func NeighbourhoodName(context map[string]any) string {
	for _, key := range []string{"neighbourhood_name", "neighbourhood_id"} {
		if s, ok := context[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// BuildFormatPrompt renders the prompt that turns API data into prose.
func BuildFormatPrompt(intent string, apiData any, userQuery string) string {
	data, err := json.MarshalIndent(apiData, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf("%v", apiData))
	}
	return fmt.Sprintf(FormatPrompt, userQuery, data, intent)
}
