// Package prompt provides the default system instructions for voice sessions.
package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

// DefaultAssistantName is substituted for the name placeholder in the
// built-in voice instructions.
const DefaultAssistantName = "DrArturo AI"

const namePlaceholder = "{{AI_NAME}}"

//go:embed voice.txt
var voiceTemplate string

// Voice returns the built-in voice instructions with the assistant name
// filled in.
func Voice() string {
	return Render(voiceTemplate, DefaultAssistantName)
}

// Render replaces the first name placeholder in tmpl with name.
func Render(tmpl, name string) string {
	return strings.Replace(tmpl, namePlaceholder, name, 1)
}

// Load returns the instructions read from path, or the built-in voice
// instructions when path is empty, with the name placeholder filled by name.
// An empty name means [DefaultAssistantName].
func Load(path, name string) (string, error) {
	if name == "" {
		name = DefaultAssistantName
	}
	if path == "" {
		return Render(voiceTemplate, name), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("prompt: read instructions: %w", err)
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return "", fmt.Errorf("prompt: instructions file %q is empty", path)
	}
	return Render(text, name), nil
}
