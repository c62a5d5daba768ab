// Package publisher creates finished articles on a WordPress-compatible CMS
// through its REST API.
package publisher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/yuin/goldmark"

	"article-pipeline/internal/models"
	"article-pipeline/internal/runlog"
)

const cmsAPIName = "cms"

// WordPress publishes through /wp-json/wp/v2. The base URL and credentials
// come from the run's configuration, so one publisher serves any site.
type WordPress struct {
	http *resty.Client
}

// NewWordPress creates a publisher with the given request timeout.
func NewWordPress(timeout time.Duration) *WordPress {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &WordPress{
		http: resty.New().
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(1 * time.Second).
			SetRetryMaxWaitTime(5 * time.Second),
	}
}

type mediaResponse struct {
	ID        int    `json:"id"`
	SourceURL string `json:"source_url"`
}

type termResponse struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type postRequest struct {
	Title         string `json:"title"`
	Slug          string `json:"slug"`
	Content       string `json:"content"`
	Excerpt       string `json:"excerpt,omitempty"`
	Status        string `json:"status"`
	Date          string `json:"date,omitempty"`
	FeaturedMedia int    `json:"featured_media,omitempty"`
	Categories    []int  `json:"categories,omitempty"`
	Tags          []int  `json:"tags,omitempty"`
}

type postResponse struct {
	ID     int    `json:"id"`
	Link   string `json:"link"`
	Status string `json:"status"`
}

// Publish uploads the featured image, resolves categories and tags, creates
// the post (published now or scheduled), and verifies a live post answers.
func (w *WordPress) Publish(ctx context.Context, cfg models.Configuration, req models.PublishRequest) (models.PublishResult, error) {
	base := strings.TrimRight(cfg.CMSBaseURL(), "/")
	if base == "" {
		return models.PublishResult{}, fmt.Errorf("configuration has no cms_base_url")
	}
	user := cfg.Credential("cms_username")
	pass := cfg.Credential("cms_app_password")
	rec := runlog.FromContext(ctx)

	mediaID, err := w.uploadFeatured(ctx, base, user, pass, req.Images.Featured, rec)
	if err != nil {
		return models.PublishResult{}, err
	}

	catIDs, err := w.resolveTerms(ctx, base, user, pass, "categories", req.Categories, rec)
	if err != nil {
		return models.PublishResult{}, err
	}
	tagIDs, err := w.resolveTerms(ctx, base, user, pass, "tags", req.Tags, rec)
	if err != nil {
		return models.PublishResult{}, err
	}

	status := "publish"
	date := ""
	if req.ScheduledDate != nil && req.ScheduledDate.After(time.Now()) {
		status = "future"
		date = req.ScheduledDate.UTC().Format(time.RFC3339)
	}

	html, err := renderPostHTML(req)
	if err != nil {
		return models.PublishResult{}, err
	}

	body := postRequest{
		Title:         req.Structure.Metadata.Title,
		Slug:          req.Structure.Metadata.Slug,
		Content:       html,
		Excerpt:       req.Structure.Metadata.MetaDescription,
		Status:        status,
		Date:          date,
		FeaturedMedia: mediaID,
		Categories:    catIDs,
		Tags:          tagIDs,
	}
	var post postResponse
	resp, err := w.http.R().
		SetContext(ctx).
		SetBasicAuth(user, pass).
		SetBody(body).
		SetResult(&post).
		Post(base + "/wp-json/wp/v2/posts")
	if err != nil {
		return models.PublishResult{}, fmt.Errorf("create post: %w", err)
	}
	if resp.IsError() {
		return models.PublishResult{}, fmt.Errorf("create post: status %s", resp.Status())
	}
	if post.ID == 0 {
		return models.PublishResult{}, fmt.Errorf("create post: no id in response")
	}
	rec.LogAPICall(cmsAPIName, "create_post",
		map[string]any{"title": body.Title, "slug": body.Slug, "status": body.Status},
		map[string]any{"id": post.ID, "link": post.Link, "status": post.Status}, 0)

	if post.Status == "publish" {
		if err := w.verify(ctx, post.Link, rec); err != nil {
			return models.PublishResult{}, fmt.Errorf("verify post: %w", err)
		}
	} else {
		rec.LogWarning("scheduled post left unverified",
			map[string]any{"post_id": post.ID, "status": post.Status})
	}

	return models.PublishResult{
		PostID:  strconv.Itoa(post.ID),
		PostURL: post.Link,
		Status:  post.Status,
	}, nil
}

// uploadFeatured sends the featured image to the media endpoint. A bundle
// without a featured image publishes without one.
func (w *WordPress) uploadFeatured(ctx context.Context, base, user, pass string, img models.GeneratedImage, rec *runlog.Logger) (int, error) {
	if len(img.Data) == 0 {
		return 0, nil
	}
	var media mediaResponse
	resp, err := w.http.R().
		SetContext(ctx).
		SetBasicAuth(user, pass).
		SetHeader("Content-Type", "image/jpeg").
		SetHeader("Content-Disposition", fmt.Sprintf("attachment; filename=%q", img.Name)).
		SetBody(img.Data).
		SetResult(&media).
		Post(base + "/wp-json/wp/v2/media")
	if err != nil {
		return 0, fmt.Errorf("upload media: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("upload media: status %s", resp.Status())
	}
	rec.LogAPICall(cmsAPIName, "upload_media",
		map[string]any{"filename": img.Name, "bytes": len(img.Data)},
		map[string]any{"id": media.ID, "source_url": media.SourceURL}, 0)
	return media.ID, nil
}

// resolveTerms maps label names to term ids, creating missing terms.
func (w *WordPress) resolveTerms(ctx context.Context, base, user, pass, taxonomy string, names []string, rec *runlog.Logger) ([]int, error) {
	var ids []int
	for _, name := range names {
		var found []termResponse
		resp, err := w.http.R().
			SetContext(ctx).
			SetBasicAuth(user, pass).
			SetQueryParam("search", name).
			SetResult(&found).
			Get(base + "/wp-json/wp/v2/" + taxonomy)
		if err != nil {
			return nil, fmt.Errorf("search %s %q: %w", taxonomy, name, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("search %s %q: status %s", taxonomy, name, resp.Status())
		}

		id := 0
		for _, term := range found {
			if strings.EqualFold(term.Name, name) {
				id = term.ID
				break
			}
		}
		if id == 0 {
			var created termResponse
			resp, err := w.http.R().
				SetContext(ctx).
				SetBasicAuth(user, pass).
				SetBody(map[string]string{"name": name}).
				SetResult(&created).
				Post(base + "/wp-json/wp/v2/" + taxonomy)
			if err != nil {
				return nil, fmt.Errorf("create %s %q: %w", taxonomy, name, err)
			}
			if resp.IsError() {
				return nil, fmt.Errorf("create %s %q: status %s", taxonomy, name, resp.Status())
			}
			id = created.ID
			rec.LogAPICall(cmsAPIName, "create_"+taxonomy,
				map[string]any{"name": name},
				map[string]any{"id": created.ID}, 0)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// verify checks the published post answers on its public link.
func (w *WordPress) verify(ctx context.Context, link string, rec *runlog.Logger) error {
	if link == "" {
		return fmt.Errorf("post has no link")
	}
	resp, err := w.http.R().SetContext(ctx).Get(link)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("status %s", resp.Status())
	}
	rec.LogAPICall(cmsAPIName, "verify_post",
		map[string]any{"link": link},
		map[string]any{"status": resp.StatusCode()}, 0)
	return nil
}

// renderPostHTML rebuilds the article with absolute image URLs from the
// asset manifest and renders it for the post body.
func renderPostHTML(req models.PublishRequest) (string, error) {
	var b strings.Builder
	if url := assetURL(req.Manifest, req.Images.Featured.Name); url != "" {
		fmt.Fprintf(&b, "![%s](%s)\n\n", req.Structure.Metadata.Title, url)
	}
	b.WriteString(strings.TrimSpace(req.Content.Introduction))
	b.WriteString("\n\n")
	for i, ch := range req.Content.Chapters {
		fmt.Fprintf(&b, "## %s\n\n", ch.Title)
		if i < len(req.Images.Chapters) {
			if url := assetURL(req.Manifest, req.Images.Chapters[i].Name); url != "" {
				fmt.Fprintf(&b, "![%s](%s)\n\n", ch.Title, url)
			}
		}
		b.WriteString(strings.TrimSpace(ch.Body))
		b.WriteString("\n\n")
	}
	b.WriteString("## Conclusion\n\n")
	b.WriteString(strings.TrimSpace(req.Content.Conclusion))
	b.WriteString("\n")

	var buf strings.Builder
	if err := goldmark.Convert([]byte(b.String()), &buf); err != nil {
		return "", fmt.Errorf("render post html: %w", err)
	}
	return buf.String(), nil
}

func assetURL(manifest models.AssetManifest, name string) string {
	for _, f := range manifest.Files {
		if f.Name == name {
			return f.URL
		}
	}
	return ""
}
