package models

import (
	"time"
)

// ArticleMetadata is produced by the structure phase.
type ArticleMetadata struct {
	Title           string   `json:"title"`
	Slug            string   `json:"slug"`
	MetaDescription string   `json:"meta_description"`
	Keywords        []string `json:"keywords"`
}

// ChapterOutline is one planned chapter.
type ChapterOutline struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// ImagePromptSet carries the prompts for the images phase.
type ImagePromptSet struct {
	Featured string   `json:"featured"`
	Chapters []string `json:"chapters"`
}

// ArticleStructure is the full output of the structure phase and the input
// of every later phase.
type ArticleStructure struct {
	Metadata       ArticleMetadata  `json:"metadata"`
	Chapters       []ChapterOutline `json:"chapters"`
	ContentPrompts []string         `json:"content_prompts"`
	ImagePrompts   ImagePromptSet   `json:"image_prompts"`
}

// ChapterContent is one written chapter with its word accounting.
type ChapterContent struct {
	Title           string `json:"title"`
	Body            string `json:"body"`
	TargetWordCount int    `json:"target_word_count"`
	ActualWordCount int    `json:"actual_word_count"`
}

// ArticleContent is the output of the content phase.
type ArticleContent struct {
	Introduction string           `json:"introduction"`
	Chapters     []ChapterContent `json:"chapters"`
	Conclusion   string           `json:"conclusion"`
}

// GeneratedImage is one downloaded, validated image.
type GeneratedImage struct {
	Name      string  `json:"name"`
	Prompt    string  `json:"prompt"`
	SourceURL string  `json:"source_url"`
	Size      string  `json:"size"`
	Quality   string  `json:"quality"`
	Data      []byte  `json:"-"`
	CostUSD   float64 `json:"cost_usd"`
}

// GeneratedImages is the output of the images phase.
type GeneratedImages struct {
	Featured  GeneratedImage   `json:"featured"`
	Chapters  []GeneratedImage `json:"chapters"`
	TotalCost float64          `json:"total_cost"`
}

// AssetBundle is everything the assets phase persists.
type AssetBundle struct {
	Structure ArticleStructure
	Content   ArticleContent
	Images    GeneratedImages
}

// AssetFile is one uploaded artifact with its public reference.
type AssetFile struct {
	Name        string `json:"name"`
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Bytes       int    `json:"bytes"`
}

// AssetManifest is the output of the assets phase.
type AssetManifest struct {
	FolderRef   string      `json:"folder_ref"`
	Files       []AssetFile `json:"files"`
	ManifestURL string      `json:"manifest_url"`
}

// PublishRequest carries the article into the publish phase.
type PublishRequest struct {
	Structure     ArticleStructure
	Content       ArticleContent
	Images        GeneratedImages
	Manifest      AssetManifest
	Categories    []string
	Tags          []string
	ScheduledDate *time.Time
}

// PublishResult is the publisher's answer: the live article reference.
type PublishResult struct {
	PostID  string `json:"post_id"`
	PostURL string `json:"post_url"`
	Status  string `json:"status"`
}
