package promptbuild

import "context"

// ExtensionPromptType is where an extension prompt is injected.
type ExtensionPromptType int

const (
	ExtensionPromptNone         ExtensionPromptType = -1
	ExtensionPromptInPrompt     ExtensionPromptType = 0
	ExtensionPromptInChat       ExtensionPromptType = 1
	ExtensionPromptBeforePrompt ExtensionPromptType = 2
)

// PromptRole is the numeric role used by extension prompts and world info.
type PromptRole int

const (
	PromptRoleSystem    PromptRole = 0
	PromptRoleUser      PromptRole = 1
	PromptRoleAssistant PromptRole = 2
)

// String maps a numeric role to a message role. Unknown values are system.
func (r PromptRole) String() string {
	switch r {
	case PromptRoleUser:
		return RoleUser
	case PromptRoleAssistant:
		return RoleAssistant
	default:
		return RoleSystem
	}
}

// AnchorPosition places world info examples relative to the card's examples.
type AnchorPosition int

const (
	AnchorBefore AnchorPosition = 0
	AnchorAfter  AnchorPosition = 1
)

// PersonaPosition is where the persona description goes.
type PersonaPosition int

const (
	PersonaInPrompt  PersonaPosition = 0
	PersonaAfterChar PersonaPosition = 1
	PersonaTopAN     PersonaPosition = 2
	PersonaBottomAN  PersonaPosition = 3
	PersonaAtDepth   PersonaPosition = 4
	PersonaNone      PersonaPosition = 9
)

// PromptFilter decides at build time whether an extension prompt applies.
type PromptFilter func(ctx context.Context) (bool, error)

const (
	DefaultDepthPromptDepth = 4
	DefaultDepthPromptRole  = RoleSystem
)

// Extension prompt keys the assembler handles itself; they are never injected
// as generic extension prompts.
var knownExtensionPrompts = map[string]struct{}{
	"1_memory":            {},
	"2_floating_prompt":   {},
	"3_vectors":           {},
	"4_vectors_data_bank": {},
	"chromadb":            {},
	"PERSONA_DESCRIPTION": {},
	"QUIET_PROMPT":        {},
	"DEPTH_PROMPT":        {},
}

// normalizeRole returns role when it is a valid message role, else fallback.
func normalizeRole(role, fallback string) string {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return role
	default:
		return fallback
	}
}
