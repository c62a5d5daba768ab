package article

import (
	"context"
	"fmt"
	"strings"

	"article-pipeline/internal/models"
)

const writerSystemPrompt = "You are a professional blog writer. Write engaging, factual prose. Respond with the text only, no headings or preamble."

// Writer produces the article prose, one chat call per section.
type Writer struct {
	client *Client
}

// NewWriter wraps a chat client.
func NewWriter(client *Client) *Writer {
	return &Writer{client: client}
}

// WriteAll writes the introduction, every chapter, and the conclusion in
// order. Chapter bodies carry target and measured word counts.
func (w *Writer) WriteAll(ctx context.Context, cfg models.Configuration, structure models.ArticleStructure) (models.ArticleContent, error) {
	target := cfg.ChapterWordTarget()

	intro, err := w.client.Complete(ctx, cfg, "write_introduction", writerSystemPrompt,
		fmt.Sprintf("Write a compelling introduction (about 150 words) for an article titled %q. Meta description: %s",
			structure.Metadata.Title, structure.Metadata.MetaDescription), 600)
	if err != nil {
		return models.ArticleContent{}, err
	}

	chapters := make([]models.ChapterContent, 0, len(structure.Chapters))
	for i, ch := range structure.Chapters {
		prompt := fmt.Sprintf("Write the chapter %q covering: %s", ch.Title, ch.Summary)
		if i < len(structure.ContentPrompts) && structure.ContentPrompts[i] != "" {
			prompt = structure.ContentPrompts[i]
		}
		body, err := w.client.Complete(ctx, cfg, fmt.Sprintf("write_chapter_%d", ch.Number), writerSystemPrompt,
			fmt.Sprintf("%s\n\nAim for about %d words.", prompt, target), target*2)
		if err != nil {
			return models.ArticleContent{}, err
		}
		chapters = append(chapters, models.ChapterContent{
			Title:           ch.Title,
			Body:            body,
			TargetWordCount: target,
			ActualWordCount: countWords(body),
		})
	}

	conclusion, err := w.client.Complete(ctx, cfg, "write_conclusion", writerSystemPrompt,
		fmt.Sprintf("Write a conclusion (about 120 words) for an article titled %q that ties together these chapters: %s",
			structure.Metadata.Title, chapterTitles(structure.Chapters)), 600)
	if err != nil {
		return models.ArticleContent{}, err
	}

	return models.ArticleContent{
		Introduction: intro,
		Chapters:     chapters,
		Conclusion:   conclusion,
	}, nil
}

func chapterTitles(chapters []models.ChapterOutline) string {
	titles := make([]string, len(chapters))
	for i, ch := range chapters {
		titles[i] = ch.Title
	}
	return strings.Join(titles, ", ")
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
