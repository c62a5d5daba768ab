package article

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"article-pipeline/internal/models"
)

const structureSystemPrompt = "You are an SEO content strategist. Respond with a single JSON object and nothing else."

// Builder plans an article from the seed keyword and configuration.
type Builder struct {
	client *Client
}

// NewBuilder wraps a chat client.
func NewBuilder(client *Client) *Builder {
	return &Builder{client: client}
}

// structurePayload is the JSON shape requested from the model.
type structurePayload struct {
	Title           string                  `json:"title"`
	Slug            string                  `json:"slug"`
	MetaDescription string                  `json:"meta_description"`
	Keywords        []string                `json:"keywords"`
	Chapters        []models.ChapterOutline `json:"chapters"`
	ContentPrompts  []string                `json:"content_prompts"`
	ImagePrompts    models.ImagePromptSet   `json:"image_prompts"`
}

// Build asks the model for a complete outline and parses its reply. Job
// parameters override the configuration's audience and style defaults.
func (b *Builder) Build(ctx context.Context, cfg models.Configuration, job models.Job) (models.ArticleStructure, error) {
	audience := cfg.DefaultAudience()
	if job.TargetAudience != nil && *job.TargetAudience != "" {
		audience = *job.TargetAudience
	}
	style := cfg.DefaultStyle()
	if job.WritingStyle != nil && *job.WritingStyle != "" {
		style = *job.WritingStyle
	}

	prompt := fmt.Sprintf(`Plan a blog article about %q.
Language: %s. Target audience: %s. Writing style: %s.
The article has exactly %d chapters.

Return a JSON object with these fields:
- "title": the article title
- "slug": a URL slug for the title
- "meta_description": an SEO description under 160 characters
- "keywords": 5 to 10 keywords
- "chapters": an array of %d objects {"number", "title", "summary"}
- "content_prompts": one writing instruction per chapter, same order
- "image_prompts": {"featured": prompt for the hero image, "chapters": one prompt per chapter}`,
		job.SeedKeyword, cfg.Language(), audience, style, cfg.ChapterCount(), cfg.ChapterCount())

	raw, err := b.client.Complete(ctx, cfg, "build_structure", structureSystemPrompt, prompt, 2000)
	if err != nil {
		return models.ArticleStructure{}, err
	}

	var payload structurePayload
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &payload); err != nil {
		return models.ArticleStructure{}, fmt.Errorf("parse structure reply: %w", err)
	}
	if payload.Title == "" {
		return models.ArticleStructure{}, fmt.Errorf("structure reply has no title")
	}
	if len(payload.Chapters) == 0 {
		return models.ArticleStructure{}, fmt.Errorf("structure reply has no chapters")
	}

	slug := payload.Slug
	if slug == "" {
		slug = Slugify(payload.Title)
	}
	for i := range payload.Chapters {
		if payload.Chapters[i].Number == 0 {
			payload.Chapters[i].Number = i + 1
		}
	}
	for len(payload.ContentPrompts) < len(payload.Chapters) {
		ch := payload.Chapters[len(payload.ContentPrompts)]
		payload.ContentPrompts = append(payload.ContentPrompts,
			fmt.Sprintf("Write the chapter %q covering: %s", ch.Title, ch.Summary))
	}
	if payload.ImagePrompts.Featured == "" {
		payload.ImagePrompts.Featured = fmt.Sprintf("Editorial illustration for an article titled %q", payload.Title)
	}
	for len(payload.ImagePrompts.Chapters) < len(payload.Chapters) {
		ch := payload.Chapters[len(payload.ImagePrompts.Chapters)]
		payload.ImagePrompts.Chapters = append(payload.ImagePrompts.Chapters,
			fmt.Sprintf("Illustration for a chapter titled %q", ch.Title))
	}

	return models.ArticleStructure{
		Metadata: models.ArticleMetadata{
			Title:           payload.Title,
			Slug:            slug,
			MetaDescription: payload.MetaDescription,
			Keywords:        payload.Keywords,
		},
		Chapters:       payload.Chapters,
		ContentPrompts: payload.ContentPrompts,
		ImagePrompts:   payload.ImagePrompts,
	}, nil
}

// stripCodeFence unwraps replies the model wrapped in a markdown code block.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Slugify turns a title into a lowercase hyphenated URL slug.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
