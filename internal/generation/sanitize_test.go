package generation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeHTML(t *testing.T) {
	doc := `<!DOCTYPE html><html><body><h1>Hi</h1></body></html>`

	t.Run("passes clean document through", func(t *testing.T) {
		out, err := sanitizeHTML(doc)
		require.NoError(t, err)
		assert.Equal(t, doc, out)
	})

	t.Run("unwraps code fences", func(t *testing.T) {
		out, err := sanitizeHTML("```html\n" + doc + "\n```")
		require.NoError(t, err)
		assert.Equal(t, doc, out)
	})

	t.Run("drops leading narration", func(t *testing.T) {
		out, err := sanitizeHTML("Sure! Here is the screen you asked for:\n\n" + doc)
		require.NoError(t, err)
		assert.Equal(t, doc, out)
	})

	t.Run("strips markdown images", func(t *testing.T) {
		out, err := sanitizeHTML(`<html><body>![hero](https://cdn.example/x.png)<p>ok</p></body></html>`)
		require.NoError(t, err)
		assert.NotContains(t, out, "![")
		assert.Contains(t, out, "<p>ok</p>")
	})

	t.Run("strips markdown links", func(t *testing.T) {
		out, err := sanitizeHTML(`<html><body>[read the docs](https://example.com/docs)<p>ok</p></body></html>`)
		require.NoError(t, err)
		assert.NotContains(t, out, "](")
		assert.Contains(t, out, "<p>ok</p>")
	})

	t.Run("strips externally sourced scripts", func(t *testing.T) {
		out, err := sanitizeHTML(`<html><head><script src="https://evil.example/x.js"></script></head><body>ok</body></html>`)
		require.NoError(t, err)
		assert.NotContains(t, out, "<script")
	})

	t.Run("keeps inline scripts", func(t *testing.T) {
		out, err := sanitizeHTML(`<html><body><script>console.log(1)</script></body></html>`)
		require.NoError(t, err)
		assert.Contains(t, out, "<script>")
	})

	t.Run("rejects empty responses", func(t *testing.T) {
		for _, raw := range []string{"", "   \n", "I could not generate anything."} {
			_, err := sanitizeHTML(raw)
			assert.ErrorIs(t, err, ErrEmptyGeneration, raw)
		}
	})
}

func TestParseAnalysis(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		out, err := parseAnalysis(`{"name": "Notely", "theme": "calm pastel"}`)
		require.NoError(t, err)
		assert.Equal(t, "Notely", out.Name)
		assert.Equal(t, "calm pastel", out.Theme)
	})

	t.Run("fenced with narration", func(t *testing.T) {
		raw := "Here is the result:\n```json\n{\"name\": \" Notely \", \"theme\": \"\"}\n```"
		out, err := parseAnalysis(raw)
		require.NoError(t, err)
		assert.Equal(t, "Notely", out.Name)
	})

	t.Run("missing name", func(t *testing.T) {
		_, err := parseAnalysis(`{"theme": "calm"}`)
		assert.Error(t, err)
	})

	t.Run("no object", func(t *testing.T) {
		_, err := parseAnalysis("not json at all")
		assert.Error(t, err)
	})
}

func TestBuildScreenPrompt(t *testing.T) {
	prompt := buildScreenPrompt("Notely", "calm pastel", "a note taking app", 1, 5)
	assert.Contains(t, prompt, "Notely")
	assert.Contains(t, prompt, "calm pastel")
	assert.Contains(t, prompt, "screen 2 of 5")

	// Theme is omitted when unset.
	bare := buildScreenPrompt("Notely", "", "a note taking app", 0, 1)
	assert.False(t, strings.Contains(bare, "Visual direction"))
}
