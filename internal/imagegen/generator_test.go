package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"article-pipeline/internal/models"
	"article-pipeline/internal/runlog"
)

func testConfig() models.Configuration {
	return models.Configuration{
		ID:          "cfg-1",
		Credentials: map[string]string{"image_api_key": "sk-img"},
	}
}

// pngBytes paints a solid square so decoded output is a real image.
func pngBytes(t *testing.T, side int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 90, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// imageAPI answers generation requests with a URL pointing at fileServer.
func imageAPI(t *testing.T, fileURL string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"url": fileURL}},
		})
	}))
}

func TestGenerateAll(t *testing.T) {
	picture := pngBytes(t, 300)
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(picture)
	}))
	defer files.Close()
	api := imageAPI(t, files.URL+"/img.png")
	defer api.Close()

	rec := runlog.New("job-1", nil)
	rec.StartPhase("images", nil)
	ctx := runlog.NewContext(context.Background(), rec)

	gen := NewGenerator(api.URL, 2*time.Second, 0)
	out, err := gen.GenerateAll(ctx, testConfig(), models.ImagePromptSet{
		Featured: "hero shot of a portafilter",
		Chapters: []string{"coffee beans close up", "steaming milk"},
	})
	if err != nil {
		t.Fatalf("generate all: %v", err)
	}

	if out.Featured.Name != "featured.jpg" {
		t.Fatalf("featured name = %q", out.Featured.Name)
	}
	if len(out.Chapters) != 2 {
		t.Fatalf("chapter images = %d", len(out.Chapters))
	}
	if out.Chapters[0].Name != "chapter_1.jpg" || out.Chapters[1].Name != "chapter_2.jpg" {
		t.Fatalf("chapter names = %q, %q", out.Chapters[0].Name, out.Chapters[1].Name)
	}

	// Defaults are standard quality at 1024x1024, 0.04 per image.
	if math.Abs(out.TotalCost-0.12) > 1e-9 {
		t.Fatalf("total cost = %f, want 0.12", out.TotalCost)
	}

	decoded, format, err := image.Decode(bytes.NewReader(out.Featured.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("output format = %q, want jpeg", format)
	}
	if decoded.Bounds().Dx() != 300 {
		t.Fatalf("output width = %d", decoded.Bounds().Dx())
	}

	trail := rec.GenerateAuditTrail()
	if len(trail.APICalls) != 3 {
		t.Fatalf("api calls = %d, want 3", len(trail.APICalls))
	}
	if trail.APICalls[0].Operation != "generate_featured" {
		t.Fatalf("first operation = %q", trail.APICalls[0].Operation)
	}
	if trail.APICalls[1].Operation != "generate_chapter_1" {
		t.Fatalf("second operation = %q", trail.APICalls[1].Operation)
	}
}

func TestGenerateRejectsSmallImages(t *testing.T) {
	picture := pngBytes(t, 64)
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(picture)
	}))
	defer files.Close()
	api := imageAPI(t, files.URL+"/img.png")
	defer api.Close()

	gen := NewGenerator(api.URL, 2*time.Second, 0)
	_, err := gen.GenerateAll(context.Background(), testConfig(), models.ImagePromptSet{Featured: "tiny"})
	if err == nil || !strings.Contains(err.Error(), "too small") {
		t.Fatalf("expected dimension rejection, got %v", err)
	}
}

func TestGenerateRejectsOversizedDownloads(t *testing.T) {
	picture := pngBytes(t, 300)
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(picture)
	}))
	defer files.Close()
	api := imageAPI(t, files.URL+"/img.png")
	defer api.Close()

	gen := NewGenerator(api.URL, 2*time.Second, 16)
	_, err := gen.GenerateAll(context.Background(), testConfig(), models.ImagePromptSet{Featured: "huge"})
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected size rejection, got %v", err)
	}
}

func TestGenerateAPIErrors(t *testing.T) {
	refusal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "content policy violation"},
		})
	}))
	defer refusal.Close()
	gen := NewGenerator(refusal.URL, 2*time.Second, 0)
	_, err := gen.GenerateAll(context.Background(), testConfig(), models.ImagePromptSet{Featured: "x"})
	if err == nil || !strings.Contains(err.Error(), "content policy violation") {
		t.Fatalf("api error = %v", err)
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer empty.Close()
	gen = NewGenerator(empty.URL, 2*time.Second, 0)
	_, err = gen.GenerateAll(context.Background(), testConfig(), models.ImagePromptSet{Featured: "x"})
	if err == nil || !strings.Contains(err.Error(), "no url") {
		t.Fatalf("empty data error = %v", err)
	}
}
