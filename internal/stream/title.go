package stream

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxTitleRunes = 255

// TitleFromFilename derives the remote entry title from an uploaded file
// name: the base name without its extension, NFC-normalized, with control
// characters removed and the result clamped to 255 runes. An unusable name
// yields the empty string and callers substitute their own identifier.
func TitleFromFilename(name string) string {
	base := strings.TrimSpace(name)
	// Browsers on some platforms submit full paths with either separator.
	if idx := strings.LastIndexAny(base, `/\`); idx >= 0 {
		base = base[idx+1:]
	}
	if base == "" || base == "." || base == ".." {
		return ""
	}

	title := strings.TrimSuffix(base, filepath.Ext(base))
	title = norm.NFC.String(title)
	title = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, title)
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}

	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = strings.TrimSpace(string(runes[:maxTitleRunes]))
	}
	return title
}
