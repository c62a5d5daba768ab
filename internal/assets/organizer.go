// Package assets persists a generated article bundle to durable storage and
// produces a manifest with public references.
package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"article-pipeline/internal/models"
	"article-pipeline/internal/runlog"
)

const storageAPIName = "storage"

// Organizer lays one run's artifacts out under a dated folder and uploads
// each through the configured uploader.
type Organizer struct {
	uploader Uploader
}

// NewOrganizer wraps an uploader.
func NewOrganizer(uploader Uploader) *Organizer {
	return &Organizer{uploader: uploader}
}

// manifestDocument is the manifest.json written alongside the artifacts.
type manifestDocument struct {
	FolderRef   string             `json:"folder_ref"`
	Title       string             `json:"title"`
	Slug        string             `json:"slug"`
	GeneratedAt time.Time          `json:"generated_at"`
	Files       []models.AssetFile `json:"files"`
}

// Organize uploads article.md, article.html, every image, and finally
// manifest.json describing them all.
func (o *Organizer) Organize(ctx context.Context, bundle models.AssetBundle, slug string) (models.AssetManifest, error) {
	if slug == "" {
		slug = "article"
	}
	folder := fmt.Sprintf("%s-%s", time.Now().UTC().Format("2006-01-02"), slug)
	manifest := models.AssetManifest{FolderRef: folder}

	upload := func(name string, body []byte, contentType string) error {
		key := folder + "/" + name
		url, err := o.uploader.Upload(ctx, key, body, contentType)
		if err != nil {
			return fmt.Errorf("upload %s: %w", name, err)
		}
		manifest.Files = append(manifest.Files, models.AssetFile{
			Name:        name,
			Key:         key,
			URL:         url,
			ContentType: contentType,
			Bytes:       len(body),
		})
		runlog.FromContext(ctx).LogAPICall(storageAPIName, "upload",
			map[string]any{"key": key, "bytes": len(body)},
			map[string]any{"url": url}, 0)
		return nil
	}

	markdown := BuildMarkdown(bundle)
	html, err := RenderHTML(markdown)
	if err != nil {
		return models.AssetManifest{}, err
	}

	if err := upload("article.md", []byte(markdown), "text/markdown"); err != nil {
		return models.AssetManifest{}, err
	}
	if err := upload("article.html", []byte(html), "text/html"); err != nil {
		return models.AssetManifest{}, err
	}
	if bundle.Images.Featured.Name != "" {
		if err := upload(bundle.Images.Featured.Name, bundle.Images.Featured.Data, "image/jpeg"); err != nil {
			return models.AssetManifest{}, err
		}
	}
	for _, img := range bundle.Images.Chapters {
		if err := upload(img.Name, img.Data, "image/jpeg"); err != nil {
			return models.AssetManifest{}, err
		}
	}

	doc, err := json.MarshalIndent(manifestDocument{
		FolderRef:   folder,
		Title:       bundle.Structure.Metadata.Title,
		Slug:        slug,
		GeneratedAt: time.Now().UTC(),
		Files:       manifest.Files,
	}, "", "  ")
	if err != nil {
		return models.AssetManifest{}, fmt.Errorf("marshal manifest: %w", err)
	}
	manifestURL, err := o.uploader.Upload(ctx, folder+"/manifest.json", doc, "application/json")
	if err != nil {
		return models.AssetManifest{}, fmt.Errorf("upload manifest: %w", err)
	}
	manifest.ManifestURL = manifestURL

	return manifest, nil
}
