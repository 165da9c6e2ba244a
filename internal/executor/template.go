package executor

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Render substitutes {{var}} placeholders from vars. Missing and nil
// values render as the empty string.
func Render(template string, vars map[string]any) string {
	return render(template, vars, nil)
}

// RenderEndpoint renders an endpoint template, escaping values for the
// part of the URL they land in.
func RenderEndpoint(template string, vars map[string]any) string {
	path, query, hasQuery := strings.Cut(template, "?")
	out := render(path, vars, url.PathEscape)
	if hasQuery {
		out += "?" + render(query, vars, url.QueryEscape)
	}
	return out
}

// RenderBody renders a body template. A value that is exactly one
// placeholder keeps the variable's own type, so numbers stay numbers.
func RenderBody(template map[string]string, vars map[string]any) map[string]any {
	if len(template) == 0 {
		return nil
	}

	body := make(map[string]any, len(template))
	for key, value := range template {
		if m := placeholderPattern.FindStringSubmatch(strings.TrimSpace(value)); m != nil && m[0] == strings.TrimSpace(value) {
			if v, ok := vars[m[1]]; ok && v != nil {
				body[key] = v
				continue
			}
		}
		body[key] = Render(value, vars)
	}
	return body
}

func render(template string, vars map[string]any, escape func(string) string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		s := formatValue(vars[name])
		if escape != nil {
			s = escape(s)
		}
		return s
	})
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	default:
		return fmt.Sprint(val)
	}
}
