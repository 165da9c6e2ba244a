package matcher

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mooncakeSG/neighbourbot/internal/models"
)

// Extractor fills entities for one intent from the raw user text.
type Extractor func(text string, intent *models.Intent, entities map[string]any)

var (
	postIDPattern        = regexp.MustCompile(`(?i)post\s+(\w+)`)
	hashIDPattern        = regexp.MustCompile(`#(\w+)`)
	commentPattern       = regexp.MustCompile(`(?i)comment[:\s]+(.+)`)
	replyPattern         = regexp.MustCompile(`(?i)reply[:\s]+(.+)`)
	searchPattern        = regexp.MustCompile(`(?i)(?:search|find|look for)\s+(.+)`)
	forPricePattern      = regexp.MustCompile(`(?i)for\s+[R$]?(\d+(?:\.\d+)?)`)
	labelPricePattern    = regexp.MustCompile(`(?i)price[:\s]+[R$]?(\d+(?:\.\d+)?)`)
	priceLabelPattern    = regexp.MustCompile(`(?i)price[:\s]`)
	titlePattern         = regexp.MustCompile(`(?i)(?:list|sell|item)[:\s]+(.+)`)
	neighbourhoodPattern = regexp.MustCompile(`(?i)neighbourhood[:\s]+(\w+)`)
	locationPattern      = regexp.MustCompile(`(?i)location[:\s]+(\w+)`)
)

func defaultExtractors() map[string]Extractor {
	return map[string]Extractor{
		"create_post":          extractContent,
		"create_alert":         extractContent,
		"comment_on_post":      extractComment,
		"search_marketplace":   extractQuery,
		"search_businesses":    extractQuery,
		"create_market_item":   extractListing,
		"update_neighbourhood": extractNeighbourhood,
	}
}

// extractContent takes everything after the first colon, or failing that
// everything after the first trigger phrase found.
func extractContent(text string, intent *models.Intent, entities map[string]any) {
	if i := strings.Index(text, ":"); i != -1 {
		entities["content"] = strings.TrimSpace(text[i+1:])
		return
	}
	if rest, ok := afterTrigger(text, intent); ok {
		entities["content"] = rest
	}
}

func extractComment(text string, _ *models.Intent, entities map[string]any) {
	if id := firstGroup(text, postIDPattern, hashIDPattern); id != "" {
		entities["post_id"] = id
	}
	if comment := firstGroup(text, commentPattern, replyPattern); comment != "" {
		entities["comment"] = strings.TrimSpace(comment)
	}
}

func extractQuery(text string, intent *models.Intent, entities map[string]any) {
	if query := firstGroup(text, searchPattern); query != "" {
		entities["query"] = strings.TrimSpace(query)
		return
	}
	if rest, ok := afterTrigger(text, intent); ok {
		entities["query"] = rest
	}
}

// extractListing reads a price ("for R150", "price: 150") and a title taken
// from the text before the price ("sell: old bike for R150").
func extractListing(text string, _ *models.Intent, entities map[string]any) {
	if raw := firstGroup(text, forPricePattern, labelPricePattern); raw != "" {
		if price, err := strconv.ParseFloat(raw, 64); err == nil {
			entities["price"] = price
		}
	}

	lower := strings.ToLower(text)
	cut := len(text)
	if i := strings.Index(lower, " for "); i != -1 {
		cut = i
	} else if loc := priceLabelPattern.FindStringIndex(text); loc != nil {
		cut = loc[0]
	}
	if cut > len(text) {
		cut = len(text)
	}

	if title := firstGroup(text[:cut], titlePattern); title != "" {
		entities["title"] = strings.TrimSpace(title)
	}
}

func extractNeighbourhood(text string, _ *models.Intent, entities map[string]any) {
	if id := firstGroup(text, neighbourhoodPattern, locationPattern); id != "" {
		entities["neighbourhood_id"] = id
	}
}

// afterTrigger returns the trimmed text following the first of the
// intent's triggers that occurs in text.
func afterTrigger(text string, intent *models.Intent) (string, bool) {
	lower := strings.ToLower(text)
	for _, trigger := range intent.Triggers {
		t := strings.ToLower(trigger)
		if t == "" {
			continue
		}
		i := strings.Index(lower, t)
		if i == -1 {
			continue
		}
		start := i + len(t)
		// Lowercasing can change byte lengths outside ASCII.
		if len(lower) != len(text) {
			return strings.TrimSpace(lower[start:]), true
		}
		return strings.TrimSpace(text[start:]), true
	}
	return "", false
}

func firstGroup(text string, patterns ...*regexp.Regexp) string {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}
