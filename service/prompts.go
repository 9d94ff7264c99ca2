package service

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

//go:embed prompts/*.json
var promptFiles embed.FS

const adPrompts = "prompts/ad.json"

var (
	promptCache   = make(map[string]map[string]string)
	promptCacheMu sync.RWMutex
)

// GetPrompt retrieves a prompt template by file and key.
func GetPrompt(filename, key string) (string, error) {
	prompts, err := loadPromptFile(filename)
	if err != nil {
		return "", err
	}
	prompt, ok := prompts[key]
	if !ok {
		return "", fmt.Errorf("prompt key %q not found in %s", key, filename)
	}
	return prompt, nil
}

// MustPrompt panics when the prompt is missing; used while constructing adapters.
func MustPrompt(key string) string {
	prompt, err := GetPrompt(adPrompts, key)
	if err != nil {
		panic(fmt.Sprintf("failed to load prompt: %v", err))
	}
	return prompt
}

// FormatPrompt replaces {{.Key}} placeholders with values from data.
func FormatPrompt(template string, data map[string]string) string {
	result := template
	for key, value := range data {
		result = strings.ReplaceAll(result, "{{."+key+"}}", value)
	}
	return result
}

func loadPromptFile(filename string) (map[string]string, error) {
	promptCacheMu.RLock()
	if prompts, ok := promptCache[filename]; ok {
		promptCacheMu.RUnlock()
		return prompts, nil
	}
	promptCacheMu.RUnlock()

	data, err := promptFiles.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file %s: %w", filename, err)
	}
	var prompts map[string]string
	if err := json.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", filename, err)
	}

	promptCacheMu.Lock()
	promptCache[filename] = prompts
	promptCacheMu.Unlock()
	return prompts, nil
}
