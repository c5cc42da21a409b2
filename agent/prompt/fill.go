package prompt

import (
	"regexp"
	"strings"
)

// Unknown replaces placeholders that have neither a value nor a default.
const Unknown = "UNKNOWN"

var defaults = map[string]string{
	"SPACE_ID":   Unknown,
	"START_DATE": Unknown,
	"END_DATE":   Unknown,
	"START_TIME": "00:00",
	"END_TIME":   "23:59",
}

var (
	blockPattern       = regexp.MustCompile(`(?s)\{\{#([A-Z0-9_]+)\}\}(.*?)\{\{/([A-Z0-9_]+)\}\}`)
	placeholderPattern = regexp.MustCompile(`\{\{([A-Z0-9_]+)\}\}`)
)

// Fill resolves a template against vars.
//
// A block {{#KEY}}...{{/KEY}} is kept only when vars[KEY] is non-blank.
// Each {{KEY}} becomes vars[KEY], then its default, then Unknown. The result
// never contains an unresolved placeholder.
func Fill(tpl string, vars map[string]string) string {
	out := blockPattern.ReplaceAllStringFunc(tpl, func(m string) string {
		sub := blockPattern.FindStringSubmatch(m)
		if sub[1] != sub[3] {
			return m
		}
		if strings.TrimSpace(vars[sub[1]]) == "" {
			return ""
		}
		return sub[2]
	})

	out = placeholderPattern.ReplaceAllStringFunc(out, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		if v := strings.TrimSpace(vars[key]); v != "" {
			return v
		}
		if v, ok := defaults[key]; ok {
			return v
		}
		return Unknown
	})
	return out
}
