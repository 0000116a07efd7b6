package promptbuild

import (
	"regexp"
	"strings"
)

const exampleStart = "<START>"

var (
	startToken = regexp.MustCompile(`(?i)<START>`)
	startLine  = regexp.MustCompile(`(?i)<START>\n`)
)

func replaceFirst(re *regexp.Regexp, s, repl string) string {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + repl + s[loc[1]:]
}

// parseMesExamples splits example dialogue into blocks, each starting with
// heading. The heading is "<START>\n" in instruct mode, else the separator.
func parseMesExamples(examples string, isInstruct bool, separator string) []string {
	if examples == "" || examples == exampleStart {
		return nil
	}
	if !strings.HasPrefix(examples, exampleStart) {
		examples = exampleStart + "\n" + strings.TrimSpace(examples)
	}
	heading := ""
	if isInstruct {
		heading = exampleStart + "\n"
	} else if separator != "" {
		heading = separator + "\n"
	}

	parts := startToken.Split(examples, -1)
	blocks := make([]string, 0, len(parts))
	for _, part := range parts[1:] {
		blocks = append(blocks, heading+strings.TrimSpace(part)+"\n")
	}
	return blocks
}

// replaceFirstStart swaps the first "<START>\n" in each block for heading.
func replaceFirstStart(blocks []string, heading string) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = replaceFirst(startLine, b, heading)
	}
	return out
}

type exampleTurn struct {
	fromUser bool
	content  string
}

// splitExampleBlock cuts one example block into turns. The first line is the
// block heading; lines starting with "<name>:" open a new turn.
func splitExampleBlock(block, userName, charName string) []exampleTurn {
	lines := strings.Split(strings.ReplaceAll(block, "\r", ""), "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}

	var (
		turns   []exampleTurn
		buf     []string
		current = -1 // -1 none, 0 user, 1 char
	)
	flush := func() {
		if current < 0 {
			return
		}
		name := charName
		if current == 0 {
			name = userName
		}
		text := strings.Join(buf, "\n")
		text = strings.TrimSpace(strings.Replace(text, name+":", "", 1))
		turns = append(turns, exampleTurn{fromUser: current == 0, content: text})
		buf = nil
	}
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, userName+":"):
			if current != 0 {
				flush()
			}
			current = 0
		case strings.HasPrefix(line, charName+":"):
			if current != 1 {
				flush()
			}
			current = 1
		}
		if current >= 0 {
			buf = append(buf, line)
		}
	}
	flush()
	return turns
}

// formatInstructModeExamples wraps example turns in the instruct sequences.
// Without an enabled instruct preset it only swaps the block heading.
func formatInstructModeExamples(blocks []string, userName, charName string, instruct *InstructPreset, separator string, substitute func(string) string) []string {
	heading := ""
	if separator != "" {
		heading = substitute(separator) + "\n"
	}
	if instruct == nil || !instruct.Enabled || instruct.SkipExamples {
		return replaceFirstStart(blocks, heading)
	}

	includeNames := instruct.NamesBehavior == "always"
	inputPrefix, outputPrefix := instruct.InputSequence, instruct.OutputSequence
	inputSuffix, outputSuffix := instruct.InputSuffix, instruct.OutputSuffix
	if instruct.Macro {
		inputPrefix, outputPrefix = substitute(inputPrefix), substitute(outputPrefix)
		inputSuffix, outputSuffix = substitute(inputSuffix), substitute(outputSuffix)
	}
	sep := ""
	if instruct.Wrap {
		sep = "\n"
	}

	var formatted []string
	for _, block := range blocks {
		cleaned := replaceFirst(startToken, block, "{Example Dialogue:}")
		turns := splitExampleBlock(cleaned, userName, charName)
		if len(turns) == 0 {
			continue
		}
		if heading != "" {
			formatted = append(formatted, heading)
		}
		for _, turn := range turns {
			prefix, suffix, name := outputPrefix, outputSuffix, charName
			if turn.fromUser {
				prefix, suffix, name = inputPrefix, inputSuffix, userName
			}
			content := turn.content
			if includeNames {
				content = name + ": " + content
			}
			parts := make([]string, 0, 2)
			if prefix != "" {
				parts = append(parts, prefix)
			}
			if body := content + suffix; body != "" {
				parts = append(parts, body)
			}
			formatted = append(formatted, strings.Join(parts, sep))
		}
	}
	if len(formatted) == 0 {
		return replaceFirstStart(blocks, heading)
	}
	return formatted
}

// formatInstructModeSystemPrompt wraps a system prompt in the preset's system
// sequence prefix and suffix.
func formatInstructModeSystemPrompt(prompt string, instruct *InstructPreset, userName string) string {
	if instruct == nil {
		return prompt
	}
	sep := ""
	if instruct.Wrap {
		sep = "\n"
	}
	if instruct.SystemSequencePrefix != "" {
		name := userName
		if name == "" {
			name = "System"
		}
		prefix := ExpandMacros(instruct.SystemSequencePrefix, map[string]string{"name": name})
		prompt = prefix + sep + prompt
	}
	if instruct.SystemSequenceSuffix != "" {
		prompt = prompt + sep + instruct.SystemSequenceSuffix
	}
	return prompt
}

// formatWorldInfo places value into wiFormat's {0} slot.
func formatWorldInfo(value, wiFormat string) string {
	if value == "" {
		return ""
	}
	if wiFormat == "" {
		return value
	}
	return strings.ReplaceAll(wiFormat, "{0}", value)
}

// exampleMessages turns example blocks into chat-completion messages. Each
// block is introduced by newChatPrompt when set.
func exampleMessages(blocks []string, userName, charName, newChatPrompt string) []Message {
	var out []Message
	for _, block := range blocks {
		turns := splitExampleBlock(block, userName, charName)
		if len(turns) == 0 {
			continue
		}
		if newChatPrompt != "" {
			out = append(out, Message{Role: RoleSystem, Content: newChatPrompt})
		}
		for _, turn := range turns {
			role := RoleAssistant
			if turn.fromUser {
				role = RoleUser
			}
			out = append(out, Message{Role: role, Content: turn.content})
		}
	}
	return out
}
