// Package pipeline drives a claimed job through the six article production
// phases and reconciles final job status.
package pipeline

import (
	"context"

	"article-pipeline/internal/models"
)

// ConfigurationSource resolves a stored configuration, optionally with
// decrypted credentials attached. Credentials are borrowed for one run and
// never cached past its end.
type ConfigurationSource interface {
	Get(ctx context.Context, id string, includeCredentials bool) (models.Configuration, error)
}

// StructureBuilder plans the article: metadata, chapter outline, and the
// content and image prompt sets.
type StructureBuilder interface {
	Build(ctx context.Context, cfg models.Configuration, job models.Job) (models.ArticleStructure, error)
}

// ContentWriter produces introduction, chapter, and conclusion prose from
// the planned structure.
type ContentWriter interface {
	WriteAll(ctx context.Context, cfg models.Configuration, structure models.ArticleStructure) (models.ArticleContent, error)
}

// ImageGenerator produces the featured image and one image per chapter.
type ImageGenerator interface {
	GenerateAll(ctx context.Context, cfg models.Configuration, prompts models.ImagePromptSet) (models.GeneratedImages, error)
}

// AssetOrganizer persists the generated bundle to durable storage and
// returns a manifest with public references.
type AssetOrganizer interface {
	Organize(ctx context.Context, bundle models.AssetBundle, slug string) (models.AssetManifest, error)
}

// Publisher creates the final article on the target platform and verifies
// it is reachable.
type Publisher interface {
	Publish(ctx context.Context, cfg models.Configuration, req models.PublishRequest) (models.PublishResult, error)
}
