// Package imagegen produces article images through an OpenAI-compatible
// image generation API. Every image is downloaded, validated, and
// normalized to JPEG before it enters the asset bundle.
package imagegen

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-resty/resty/v2"

	"article-pipeline/internal/models"
	"article-pipeline/internal/runlog"
)

const imageAPIName = "image"

// minDimension rejects truncated or placeholder images.
const minDimension = 256

// Generator calls the image endpoint and post-processes its output.
type Generator struct {
	http       *resty.Client
	downloader *http.Client
	maxBytes   int64
}

// NewGenerator creates an image generator against the given base URL.
func NewGenerator(baseURL string, timeout time.Duration, maxBytes int64) *Generator {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 25 * 1024 * 1024
	}
	return &Generator{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(1 * time.Second).
			SetRetryMaxWaitTime(5 * time.Second),
		downloader: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
	}
}

type imageRequest struct {
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size"`
	Quality string `json:"quality"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateAll produces the featured image and one image per chapter prompt,
// in order. Size and quality come from the configuration and drive the cost
// recorded for each call.
func (g *Generator) GenerateAll(ctx context.Context, cfg models.Configuration, prompts models.ImagePromptSet) (models.GeneratedImages, error) {
	size, quality := cfg.ImageSize(), cfg.ImageQuality()

	featured, err := g.generate(ctx, cfg, "featured", prompts.Featured, size, quality)
	if err != nil {
		return models.GeneratedImages{}, err
	}

	out := models.GeneratedImages{Featured: featured, TotalCost: featured.CostUSD}
	for i, prompt := range prompts.Chapters {
		img, err := g.generate(ctx, cfg, fmt.Sprintf("chapter_%d", i+1), prompt, size, quality)
		if err != nil {
			return models.GeneratedImages{}, err
		}
		out.Chapters = append(out.Chapters, img)
		out.TotalCost += img.CostUSD
	}
	return out, nil
}

func (g *Generator) generate(ctx context.Context, cfg models.Configuration, name, prompt, size, quality string) (models.GeneratedImage, error) {
	var out imageResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetAuthToken(cfg.Credential("image_api_key")).
		SetBody(imageRequest{Prompt: prompt, N: 1, Size: size, Quality: quality}).
		SetResult(&out).
		Post("/v1/images/generations")
	if err != nil {
		return models.GeneratedImage{}, fmt.Errorf("generate image %s: %w", name, err)
	}
	if resp.IsError() {
		return models.GeneratedImage{}, fmt.Errorf("generate image %s: status %s", name, resp.Status())
	}
	if out.Error != nil {
		return models.GeneratedImage{}, fmt.Errorf("generate image %s: %s", name, out.Error.Message)
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return models.GeneratedImage{}, fmt.Errorf("generate image %s: no url in response", name)
	}

	sourceURL := out.Data[0].URL
	cost := runlog.ImageCost(size, quality)
	runlog.FromContext(ctx).LogAPICall(imageAPIName, "generate_"+name,
		map[string]any{"prompt": prompt, "size": size, "quality": quality},
		map[string]any{"url": sourceURL},
		cost)

	data, err := g.download(ctx, sourceURL)
	if err != nil {
		return models.GeneratedImage{}, fmt.Errorf("image %s: %w", name, err)
	}
	normalized, err := normalize(data)
	if err != nil {
		return models.GeneratedImage{}, fmt.Errorf("image %s: %w", name, err)
	}

	return models.GeneratedImage{
		Name:      name + ".jpg",
		Prompt:    prompt,
		SourceURL: sourceURL,
		Size:      size,
		Quality:   quality,
		Data:      normalized,
		CostUSD:   cost,
	}, nil
}

func (g *Generator) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := g.downloader.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, g.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(body)) > g.maxBytes {
		return nil, fmt.Errorf("image too large (>%d bytes)", g.maxBytes)
	}
	return body, nil
}

// normalize decodes the downloaded bytes, checks minimum dimensions, and
// re-encodes as JPEG so every stored asset has a uniform format.
func normalize(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() < minDimension || bounds.Dy() < minDimension {
		return nil, fmt.Errorf("image too small: %dx%d", bounds.Dx(), bounds.Dy())
	}
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
