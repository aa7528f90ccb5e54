package generation

import (
	"encoding/json"
	"fmt"
	"strings"
)

const screenSystemPrompt = `You are a senior product designer producing self-contained mobile UI screens.
Return a single complete HTML document styled with inline CSS or a <style> block.
Use only inline assets: no external scripts, stylesheets, fonts or images.
Return only the HTML document, with no surrounding commentary.`

const analysisSystemPrompt = `You are a product naming assistant.
Given a product idea, respond with a JSON object of the shape
{"name": "...", "theme": "..."} where name is a short product name
(at most four words) and theme is a one-sentence visual direction.
Respond with JSON only.`

func buildScreenPrompt(projectName, theme, idea string, index, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n", projectName)
	if theme != "" {
		fmt.Fprintf(&b, "Visual direction: %s\n", theme)
	}
	fmt.Fprintf(&b, "Idea: %s\n", idea)
	fmt.Fprintf(&b, "Design screen %d of %d for this product. ", index+1, total)
	b.WriteString("Pick the screen a user would need at this point in the flow and give it a clear purpose.")
	return b.String()
}

func buildRegeneratePrompt(projectName, theme, title, instructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n", projectName)
	if theme != "" {
		fmt.Fprintf(&b, "Visual direction: %s\n", theme)
	}
	fmt.Fprintf(&b, "Redesign the %q screen from scratch.", title)
	if instructions != "" {
		fmt.Fprintf(&b, "\nAdditional instructions: %s", instructions)
	}
	return b.String()
}

type nameTheme struct {
	Name  string `json:"name"`
	Theme string `json:"theme"`
}

// parseAnalysis extracts the {name, theme} object from a model response,
// tolerating code fences and surrounding prose.
func parseAnalysis(raw string) (nameTheme, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nameTheme{}, fmt.Errorf("no JSON object in analysis response")
	}

	var out nameTheme
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nameTheme{}, err
	}
	out.Name = strings.TrimSpace(out.Name)
	out.Theme = strings.TrimSpace(out.Theme)
	if out.Name == "" {
		return nameTheme{}, fmt.Errorf("analysis response missing name")
	}
	return out, nil
}
