package promptbuild

import (
	"regexp"
	"strings"
)

var (
	macroPattern = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)
	trimPattern  = regexp.MustCompile(`(?i)(?:\r?\n)*\{\{trim\}\}(?:\r?\n)*`)
	legacyUser   = regexp.MustCompile(`(?i)<USER>`)
	legacyChar   = regexp.MustCompile(`(?i)<BOT>|<CHAR>|<CHARIFNOTGROUP>`)
)

// ExpandMacros replaces {{name}} macros with vars (names are case-insensitive)
// and the legacy <USER>, <BOT> and <CHAR> tokens. Unknown macros are kept.
func ExpandMacros(text string, vars map[string]string) string {
	if text == "" {
		return text
	}
	text = trimPattern.ReplaceAllString(text, "")
	text = legacyUser.ReplaceAllLiteralString(text, "{{user}}")
	text = legacyChar.ReplaceAllLiteralString(text, "{{char}}")

	lowered := make(map[string]string, len(vars))
	for k, v := range vars {
		lowered[strings.ToLower(k)] = v
	}
	return macroPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := strings.ToLower(m[2 : len(m)-2])
		switch name {
		case "newline":
			return "\n"
		case "noop":
			return ""
		}
		if v, ok := lowered[name]; ok {
			return v
		}
		return m
	})
}

// baseChatReplace expands only the user and character names.
func baseChatReplace(text, userName, charName string) string {
	return ExpandMacros(text, map[string]string{"user": userName, "char": charName})
}
