package generation

import (
	"errors"
	"regexp"
	"strings"
)

var ErrEmptyGeneration = errors.New("empty_generation_result")

var (
	fenceRe        = regexp.MustCompile("(?s)```(?:html)?\\s*(.*?)```")
	markdownLinkRe = regexp.MustCompile(`!?\[[^\]]*\]\([^)]*\)`)
	scriptSrcRe    = regexp.MustCompile(`(?is)<script[^>]*\bsrc\s*=[^>]*>\s*</script>`)
)

// sanitizeHTML normalizes a model response into a storable HTML document.
// Models routinely wrap output in code fences or prepend commentary; strip
// that, drop markdown image and link syntax and externally sourced scripts,
// and reject responses with no markup at all.
func sanitizeHTML(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ErrEmptyGeneration
	}

	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	// Drop prose before the document root when the model narrates first.
	if idx := strings.Index(strings.ToLower(text), "<!doctype"); idx > 0 {
		text = text[idx:]
	} else if idx := strings.Index(strings.ToLower(text), "<html"); idx > 0 {
		text = text[idx:]
	}

	text = markdownLinkRe.ReplaceAllString(text, "")
	text = scriptSrcRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if !strings.Contains(text, "<") || !strings.Contains(text, ">") {
		return "", ErrEmptyGeneration
	}
	return text, nil
}
