package promptbuild

import (
	"fmt"
	"strings"
	"sync"

	"github.com/aymerick/raymond"
)

// DefaultStoryString is used when no context preset supplies one.
const DefaultStoryString = "{{#if system}}{{system}}\n{{/if}}" +
	"{{#if wiBefore}}{{wiBefore}}\n{{/if}}" +
	"{{#if description}}{{description}}\n{{/if}}" +
	"{{#if personality}}{{char}}'s personality: {{personality}}\n{{/if}}" +
	"{{#if scenario}}Scenario: {{scenario}}\n{{/if}}" +
	"{{#if wiAfter}}{{wiAfter}}\n{{/if}}" +
	"{{#if persona}}{{persona}}\n{{/if}}" +
	"{{#if mesExamples}}{{mesExamples}}{{/if}}"

// StoryStringParams are the values a story string template can reference.
type StoryStringParams struct {
	Description    string
	Personality    string
	Persona        string
	Scenario       string
	System         string
	Char           string
	User           string
	WIBefore       string
	WIAfter        string
	LoreBefore     string
	LoreAfter      string
	MesExamples    string
	MesExamplesRaw string
}

func (p StoryStringParams) templateContext() map[string]any {
	return map[string]any{
		"description":    raymond.SafeString(p.Description),
		"personality":    raymond.SafeString(p.Personality),
		"persona":        raymond.SafeString(p.Persona),
		"scenario":       raymond.SafeString(p.Scenario),
		"system":         raymond.SafeString(p.System),
		"char":           raymond.SafeString(p.Char),
		"user":           raymond.SafeString(p.User),
		"wiBefore":       raymond.SafeString(p.WIBefore),
		"wiAfter":        raymond.SafeString(p.WIAfter),
		"loreBefore":     raymond.SafeString(p.LoreBefore),
		"loreAfter":      raymond.SafeString(p.LoreAfter),
		"mesExamples":    raymond.SafeString(p.MesExamples),
		"mesExamplesRaw": raymond.SafeString(p.MesExamplesRaw),
	}
}

var storyTemplates sync.Map // source -> *raymond.Template

func parseStoryTemplate(source string) (*raymond.Template, error) {
	if tpl, ok := storyTemplates.Load(source); ok {
		return tpl.(*raymond.Template), nil
	}
	tpl, err := raymond.Parse(source)
	if err != nil {
		return nil, err
	}
	storyTemplates.Store(source, tpl)
	return tpl, nil
}

// RenderStoryString renders a handlebars story string. Leftover macros are
// passed to substitute when it is non-nil. Leading newlines are dropped and a
// trailing newline is added unless an instruct preset without wrap is active.
func RenderStoryString(template string, params StoryStringParams, instruct *InstructPreset, substitute func(string) string) (string, error) {
	if template == "" {
		template = DefaultStoryString
	}
	tpl, err := parseStoryTemplate(template)
	if err != nil {
		return "", fmt.Errorf("parse story string: %w", err)
	}
	out, err := tpl.Exec(params.templateContext())
	if err != nil {
		return "", fmt.Errorf("render story string: %w", err)
	}
	if substitute != nil {
		out = substitute(out)
	}
	out = strings.TrimLeft(out, "\n")

	instructOn := instruct != nil && instruct.Enabled
	if out != "" && !strings.HasSuffix(out, "\n") && (!instructOn || instruct.Wrap) {
		out += "\n"
	}
	return out, nil
}
