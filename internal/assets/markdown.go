package assets

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"article-pipeline/internal/models"
)

// BuildMarkdown assembles the full article as one markdown document. Image
// references are relative so the document works from inside its folder.
func BuildMarkdown(bundle models.AssetBundle) string {
	var b strings.Builder
	meta := bundle.Structure.Metadata

	fmt.Fprintf(&b, "# %s\n\n", meta.Title)
	if meta.MetaDescription != "" {
		fmt.Fprintf(&b, "> %s\n\n", meta.MetaDescription)
	}
	if bundle.Images.Featured.Name != "" {
		fmt.Fprintf(&b, "![%s](%s)\n\n", meta.Title, bundle.Images.Featured.Name)
	}
	b.WriteString(strings.TrimSpace(bundle.Content.Introduction))
	b.WriteString("\n\n")

	for i, ch := range bundle.Content.Chapters {
		fmt.Fprintf(&b, "## %s\n\n", ch.Title)
		if i < len(bundle.Images.Chapters) {
			img := bundle.Images.Chapters[i]
			fmt.Fprintf(&b, "![%s](%s)\n\n", ch.Title, img.Name)
		}
		b.WriteString(strings.TrimSpace(ch.Body))
		b.WriteString("\n\n")
	}

	b.WriteString("## Conclusion\n\n")
	b.WriteString(strings.TrimSpace(bundle.Content.Conclusion))
	b.WriteString("\n")
	return b.String()
}

// RenderHTML converts the markdown document to HTML.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}
