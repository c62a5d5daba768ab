package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"article-pipeline/internal/models"
	"article-pipeline/internal/runlog"
)

// fakeCMS emulates the WordPress REST surface the publisher talks to.
type fakeCMS struct {
	t          *testing.T
	srv        *httptest.Server
	post       *postRequest
	mediaHits  int
	verifyHits int
	terms      map[string]termResponse // existing terms, keyed by lowercase name
	nextTermID int
	postStatus string
}

func newFakeCMS(t *testing.T) *fakeCMS {
	t.Helper()
	f := &fakeCMS{t: t, terms: map[string]termResponse{}, nextTermID: 10, postStatus: "publish"}
	mux := http.NewServeMux()

	mux.HandleFunc("/wp-json/wp/v2/media", func(w http.ResponseWriter, r *http.Request) {
		if user, pass, _ := r.BasicAuth(); user != "editor" || pass != "app-pass" {
			t.Errorf("media auth = %s/%s", user, pass)
		}
		f.mediaHits++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         501,
			"source_url": f.srv.URL + "/media/featured.jpg",
		})
	})

	terms := func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			name := r.URL.Query().Get("search")
			out := []termResponse{}
			if term, ok := f.terms[strings.ToLower(name)]; ok {
				out = append(out, term)
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(out)
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.nextTermID++
			term := termResponse{ID: f.nextTermID, Name: body.Name}
			f.terms[strings.ToLower(body.Name)] = term
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(term)
		}
	}
	mux.HandleFunc("/wp-json/wp/v2/categories", terms)
	mux.HandleFunc("/wp-json/wp/v2/tags", terms)

	mux.HandleFunc("/wp-json/wp/v2/posts", func(w http.ResponseWriter, r *http.Request) {
		var body postRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode post: %v", err)
		}
		f.post = &body
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     99,
			"link":   f.srv.URL + "/p/espresso",
			"status": f.postStatus,
		})
	})

	mux.HandleFunc("/p/espresso", func(w http.ResponseWriter, r *http.Request) {
		f.verifyHits++
		w.WriteHeader(http.StatusOK)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCMS) config() models.Configuration {
	return models.Configuration{
		ID:       "cfg-1",
		Settings: map[string]any{"cms_base_url": f.srv.URL + "/"},
		Credentials: map[string]string{
			"cms_username":     "editor",
			"cms_app_password": "app-pass",
		},
	}
}

func publishFixture() models.PublishRequest {
	return models.PublishRequest{
		Structure: models.ArticleStructure{
			Metadata: models.ArticleMetadata{
				Title:           "Espresso at Home",
				Slug:            "espresso-at-home",
				MetaDescription: "Pull better shots.",
			},
		},
		Content: models.ArticleContent{
			Introduction: "Espresso rewards precision.",
			Chapters: []models.ChapterContent{
				{Title: "Choosing Beans", Body: "Fresh beans matter."},
			},
			Conclusion: "Now go pull a shot.",
		},
		Images: models.GeneratedImages{
			Featured: models.GeneratedImage{Name: "featured.jpg", Data: []byte("jpg")},
			Chapters: []models.GeneratedImage{{Name: "chapter_1.jpg", Data: []byte("jpg")}},
		},
		Manifest: models.AssetManifest{
			FolderRef: "2024-03-01-espresso-at-home",
			Files: []models.AssetFile{
				{Name: "featured.jpg", URL: "https://cdn.example.com/featured.jpg"},
				{Name: "chapter_1.jpg", URL: "https://cdn.example.com/chapter_1.jpg"},
			},
		},
		Categories: []string{"guides"},
		Tags:       []string{"brewing"},
	}
}

func TestPublish(t *testing.T) {
	cms := newFakeCMS(t)
	cms.terms["guides"] = termResponse{ID: 7, Name: "Guides"} // matched case-insensitively

	rec := runlog.New("job-1", nil)
	rec.StartPhase("publish", nil)
	ctx := runlog.NewContext(context.Background(), rec)

	wp := NewWordPress(2 * time.Second)
	result, err := wp.Publish(ctx, cms.config(), publishFixture())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if result.PostID != "99" || result.Status != "publish" {
		t.Fatalf("result = %+v", result)
	}
	if result.PostURL != cms.srv.URL+"/p/espresso" {
		t.Fatalf("post url = %q", result.PostURL)
	}

	if cms.mediaHits != 1 {
		t.Fatalf("media uploads = %d", cms.mediaHits)
	}
	if cms.verifyHits != 1 {
		t.Fatalf("verification requests = %d", cms.verifyHits)
	}
	if cms.post == nil {
		t.Fatalf("no post created")
	}
	if cms.post.FeaturedMedia != 501 {
		t.Fatalf("featured media = %d", cms.post.FeaturedMedia)
	}
	if len(cms.post.Categories) != 1 || cms.post.Categories[0] != 7 {
		t.Fatalf("categories = %v, want existing id 7", cms.post.Categories)
	}
	if len(cms.post.Tags) != 1 || cms.post.Tags[0] != 11 {
		t.Fatalf("tags = %v, want newly created id 11", cms.post.Tags)
	}
	if cms.post.Status != "publish" || cms.post.Date != "" {
		t.Fatalf("post status/date = %s/%s", cms.post.Status, cms.post.Date)
	}

	// The post body is rendered HTML with absolute image URLs.
	if !strings.Contains(cms.post.Content, "<h2>Choosing Beans</h2>") {
		t.Fatalf("post content not rendered: %s", cms.post.Content)
	}
	if !strings.Contains(cms.post.Content, "https://cdn.example.com/chapter_1.jpg") {
		t.Fatalf("post content lacks absolute image url: %s", cms.post.Content)
	}

	trail := rec.GenerateAuditTrail()
	ops := make(map[string]bool)
	for _, call := range trail.APICalls {
		if call.API != "cms" {
			t.Fatalf("call api = %q", call.API)
		}
		ops[call.Operation] = true
	}
	for _, want := range []string{"upload_media", "create_tags", "create_post", "verify_post"} {
		if !ops[want] {
			t.Fatalf("missing %s call, got %v", want, ops)
		}
	}
	if ops["create_categories"] {
		t.Fatalf("existing category was recreated")
	}
}

func TestPublishScheduled(t *testing.T) {
	cms := newFakeCMS(t)
	cms.postStatus = "future"

	rec := runlog.New("job-1", nil)
	ctx := runlog.NewContext(context.Background(), rec)

	req := publishFixture()
	when := time.Now().Add(48 * time.Hour)
	req.ScheduledDate = &when

	wp := NewWordPress(2 * time.Second)
	result, err := wp.Publish(ctx, cms.config(), req)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if result.Status != "future" {
		t.Fatalf("result status = %q", result.Status)
	}
	if cms.post.Status != "future" {
		t.Fatalf("post status = %q", cms.post.Status)
	}
	if _, perr := time.Parse(time.RFC3339, cms.post.Date); perr != nil {
		t.Fatalf("post date %q not RFC3339: %v", cms.post.Date, perr)
	}
	if cms.verifyHits != 0 {
		t.Fatalf("scheduled post was verified")
	}

	trail := rec.GenerateAuditTrail()
	found := false
	for _, warning := range trail.Warnings {
		if strings.Contains(warning.Message, "unverified") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing unverified warning, got %v", trail.Warnings)
	}
}

func TestPublishPastScheduleGoesLive(t *testing.T) {
	cms := newFakeCMS(t)

	req := publishFixture()
	when := time.Now().Add(-time.Hour)
	req.ScheduledDate = &when

	wp := NewWordPress(2 * time.Second)
	if _, err := wp.Publish(context.Background(), cms.config(), req); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if cms.post.Status != "publish" {
		t.Fatalf("past schedule should publish immediately, got %q", cms.post.Status)
	}
}

func TestPublishWithoutFeaturedImage(t *testing.T) {
	cms := newFakeCMS(t)

	req := publishFixture()
	req.Images.Featured = models.GeneratedImage{}

	wp := NewWordPress(2 * time.Second)
	if _, err := wp.Publish(context.Background(), cms.config(), req); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if cms.mediaHits != 0 {
		t.Fatalf("media endpoint hit without a featured image")
	}
	if cms.post.FeaturedMedia != 0 {
		t.Fatalf("featured media = %d, want 0", cms.post.FeaturedMedia)
	}
}

func TestPublishRequiresBaseURL(t *testing.T) {
	wp := NewWordPress(2 * time.Second)
	_, err := wp.Publish(context.Background(), models.Configuration{}, publishFixture())
	if err == nil || !strings.Contains(err.Error(), "cms_base_url") {
		t.Fatalf("expected missing base url error, got %v", err)
	}
}

func TestPublishCreatePostFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/posts") {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte("[]"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 1})
	}))
	defer srv.Close()

	cfg := models.Configuration{
		Settings:    map[string]any{"cms_base_url": srv.URL},
		Credentials: map[string]string{"cms_username": "editor", "cms_app_password": "app-pass"},
	}
	wp := NewWordPress(2 * time.Second)
	_, err := wp.Publish(context.Background(), cfg, publishFixture())
	if err == nil || !strings.Contains(err.Error(), "create post") {
		t.Fatalf("expected create post failure, got %v", err)
	}
}
