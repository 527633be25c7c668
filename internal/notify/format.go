package notify

import (
	"fmt"
	"strings"

	"tagwatch/internal/release"
)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func EscapeHtml(text string) string {
	return htmlEscaper.Replace(text)
}

var hashtagReplacer = strings.NewReplacer(" ", "_", "-", "_")

// Hashtags renders tags as "#post_punk #d_beat".
func Hashtags(tags []string) string {
	var out []string
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		out = append(out, "#"+hashtagReplacer.Replace(tag))
	}
	return strings.Join(out, " ")
}

func truncate(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}

// FormatReleaseHtml renders a release as a telegram flavored html message,
// title and artist are cut to maxLength runes when maxLength > 0.
func FormatReleaseHtml(metadata release.Metadata, maxLength int) string {
	lines := []string{
		fmt.Sprintf("🎵 <b>%s</b>", EscapeHtml(truncate(metadata.Title, maxLength))),
		fmt.Sprintf("👤 <b>%s</b>", EscapeHtml(truncate(metadata.Artist, maxLength))),
		"",
	}
	if hashtags := Hashtags(metadata.Tags); hashtags != "" {
		lines = append(lines, "🏷️ "+EscapeHtml(hashtags), "")
	}
	lines = append(lines, fmt.Sprintf(`🔗 <a href="%s">Open on Bandcamp</a>`, EscapeHtml(metadata.Link)))
	return strings.Join(lines, "\n")
}

// FormatReleaseText is FormatReleaseHtml without markup.
func FormatReleaseText(metadata release.Metadata) string {
	lines := []string{
		metadata.Title,
		"by " + metadata.Artist,
		"",
	}
	if hashtags := Hashtags(metadata.Tags); hashtags != "" {
		lines = append(lines, hashtags, "")
	}
	lines = append(lines, metadata.Link)
	return strings.Join(lines, "\n")
}
