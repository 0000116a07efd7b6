package generate

import (
	"encoding/json"

	"github.com/kayz/tavernkit/internal/config"
	"github.com/kayz/tavernkit/internal/promptbuild"
)

// Connection profile modes.
const (
	ModeChatCompletion = "cc"
	ModeTextCompletion = "tc"
)

// Profile is a stored connection profile.
type Profile struct {
	ID             string   `json:"id"`
	Mode           string   `json:"mode"`
	Name           string   `json:"name,omitempty"`
	API            string   `json:"api,omitempty"`
	Preset         string   `json:"preset,omitempty"`
	Model          string   `json:"model,omitempty"`
	Proxy          string   `json:"proxy,omitempty"`
	Instruct       string   `json:"instruct,omitempty"`
	InstructState  string   `json:"instruct-state,omitempty"`
	Context        string   `json:"context,omitempty"`
	Sysprompt      string   `json:"sysprompt,omitempty"`
	SyspromptState string   `json:"sysprompt-state,omitempty"`
	APIURL         string   `json:"api-url,omitempty"`
	Tokenizer      string   `json:"tokenizer,omitempty"`
	StopStrings    string   `json:"stop_strings,omitempty"`
	Exclude        []string `json:"exclude,omitempty"`

	// Provider names the config provider that serves this profile.
	Provider string `json:"-"`
}

// ProfileFromConfig converts a configured profile. Stop strings are stored as
// a JSON array, the way profiles keep them.
func ProfileFromConfig(p config.ProfileConfig) Profile {
	var stop string
	if len(p.StopStrings) > 0 {
		data, _ := json.Marshal(p.StopStrings)
		stop = string(data)
	}
	return Profile{
		ID:          p.ID,
		Mode:        p.Mode,
		Name:        p.Name,
		API:         p.API,
		Preset:      p.Preset,
		Model:       p.Model,
		Instruct:    p.Instruct,
		Context:     p.Context,
		Sysprompt:   p.Sysprompt,
		StopStrings: stop,
		Provider:    p.Provider,
	}
}

// StopSequences decodes StopStrings, dropping empty entries. A value that is
// not a JSON array is taken as a single stop string.
func (p Profile) StopSequences() []string {
	if p.StopStrings == "" {
		return nil
	}
	var all []string
	if err := json.Unmarshal([]byte(p.StopStrings), &all); err != nil {
		return []string{p.StopStrings}
	}
	var out []string
	for _, s := range all {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PromptAPI is the prompt assembler API matching the profile's mode.
func (p Profile) PromptAPI() string {
	if p.Mode == ModeTextCompletion {
		return promptbuild.APITextCompletion
	}
	return promptbuild.APIChatCompletion
}

// BuildOptions fills the preset names the profile selects.
func (p Profile) BuildOptions(opts promptbuild.BuildOptions) promptbuild.BuildOptions {
	if opts.PresetName == "" {
		opts.PresetName = p.Preset
	}
	if opts.InstructName == "" && p.InstructState != "false" {
		opts.InstructName = p.Instruct
	}
	if opts.ContextName == "" {
		opts.ContextName = p.Context
	}
	if opts.SyspromptName == "" && p.SyspromptState != "false" {
		opts.SyspromptName = p.Sysprompt
	}
	return opts
}

// APIMapping says which backend family a profile api belongs to, and the
// source (chat completion) or type (text completion) within it.
type APIMapping struct {
	Selected string `json:"selected"`
	Source   string `json:"source,omitempty"`
	Type     string `json:"type,omitempty"`
}

// ConnectAPIMap maps profile api names to backend families.
type ConnectAPIMap map[string]APIMapping

// DefaultConnectAPIMap covers the common profile apis.
var DefaultConnectAPIMap = ConnectAPIMap{
	"openai":     {Selected: promptbuild.APIChatCompletion, Source: "openai"},
	"claude":     {Selected: promptbuild.APIChatCompletion, Source: "claude"},
	"openrouter": {Selected: promptbuild.APIChatCompletion, Source: "openrouter"},
	"deepseek":   {Selected: promptbuild.APIChatCompletion, Source: "deepseek"},
	"custom":     {Selected: promptbuild.APIChatCompletion, Source: "custom"},
	"ooba":       {Selected: promptbuild.APITextCompletion, Type: "ooba"},
	"koboldcpp":  {Selected: promptbuild.APITextCompletion, Type: "koboldcpp"},
	"llamacpp":   {Selected: promptbuild.APITextCompletion, Type: "llamacpp"},
	"vllm":       {Selected: promptbuild.APITextCompletion, Type: "vllm"},
	"ollama":     {Selected: promptbuild.APITextCompletion, Type: "ollama"},
	"tabby":      {Selected: promptbuild.APITextCompletion, Type: "tabby"},
}

// IsProfileSupported reports whether profile targets one of the allowed
// backend families with a known source or type.
func IsProfileSupported(profile *Profile, allowed map[string]string, apiMap ConnectAPIMap) bool {
	if profile == nil || profile.API == "" {
		return false
	}
	m, ok := apiMap[profile.API]
	if !ok {
		return false
	}
	if _, ok := allowed[m.Selected]; !ok {
		return false
	}
	switch m.Selected {
	case promptbuild.APIChatCompletion:
		return m.Source != ""
	case promptbuild.APITextCompletion:
		return m.Type != ""
	}
	return false
}
