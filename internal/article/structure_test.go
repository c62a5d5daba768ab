package article

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"article-pipeline/internal/models"
)

func testConfig() models.Configuration {
	return models.Configuration{
		ID:   "cfg-1",
		Name: "coffee blog",
		Settings: map[string]any{
			"chapter_count": 2,
			"llm_model":     "gpt-4o",
		},
		Credentials: map[string]string{"llm_api_key": "sk-test"},
	}
}

// chatServer answers every completion request with the given assistant
// content and records the decoded requests.
func chatServer(t *testing.T, content string, requests *[]chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode chat request: %v", err)
		}
		if requests != nil {
			*requests = append(*requests, req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
			"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 340},
		})
	}))
}

func TestBuildStructure(t *testing.T) {
	reply := "```json\n" + `{
		"title": "Espresso at Home",
		"slug": "",
		"meta_description": "Pull better shots in your kitchen.",
		"keywords": ["espresso", "crema", "grind"],
		"chapters": [
			{"title": "Choosing Beans", "summary": "freshness and roast"},
			{"title": "Dialing In", "summary": "grind and dose"}
		],
		"content_prompts": ["Write about bean selection"],
		"image_prompts": {"featured": "", "chapters": []}
	}` + "\n```"

	var requests []chatRequest
	srv := chatServer(t, reply, &requests)
	defer srv.Close()

	builder := NewBuilder(NewClient(srv.URL, 2*time.Second))
	audience := "home baristas"
	structure, err := builder.Build(context.Background(), testConfig(), models.Job{
		SeedKeyword:    "espresso",
		TargetAudience: &audience,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if structure.Metadata.Title != "Espresso at Home" {
		t.Fatalf("title = %q", structure.Metadata.Title)
	}
	if structure.Metadata.Slug != "espresso-at-home" {
		t.Fatalf("slug fallback = %q", structure.Metadata.Slug)
	}
	if len(structure.Chapters) != 2 {
		t.Fatalf("chapters = %d", len(structure.Chapters))
	}
	if structure.Chapters[0].Number != 1 || structure.Chapters[1].Number != 2 {
		t.Fatalf("chapter numbers not backfilled: %+v", structure.Chapters)
	}

	// The missing second prompt and all image prompts are synthesized.
	if len(structure.ContentPrompts) != 2 {
		t.Fatalf("content prompts = %d", len(structure.ContentPrompts))
	}
	if !strings.Contains(structure.ContentPrompts[1], "Dialing In") {
		t.Fatalf("padded prompt = %q", structure.ContentPrompts[1])
	}
	if structure.ImagePrompts.Featured == "" {
		t.Fatalf("featured image prompt not synthesized")
	}
	if len(structure.ImagePrompts.Chapters) != 2 {
		t.Fatalf("chapter image prompts = %d", len(structure.ImagePrompts.Chapters))
	}

	if len(requests) != 1 {
		t.Fatalf("chat calls = %d, want 1", len(requests))
	}
	req := requests[0]
	if req.Model != "gpt-4o" {
		t.Fatalf("model = %q", req.Model)
	}
	user := req.Messages[1].Content
	if !strings.Contains(user, `"espresso"`) || !strings.Contains(user, "home baristas") {
		t.Fatalf("prompt missing job parameters: %q", user)
	}
	if !strings.Contains(user, "exactly 2 chapters") {
		t.Fatalf("prompt missing chapter count: %q", user)
	}
}

func TestBuildStructureRejectsBadReplies(t *testing.T) {
	cases := []struct {
		name  string
		reply string
	}{
		{"not json", "sorry, I cannot do that"},
		{"no title", `{"title": "", "chapters": [{"title": "a"}]}`},
		{"no chapters", `{"title": "Espresso", "chapters": []}`},
	}
	for _, tc := range cases {
		srv := chatServer(t, tc.reply, nil)
		builder := NewBuilder(NewClient(srv.URL, 2*time.Second))
		_, err := builder.Build(context.Background(), testConfig(), models.Job{SeedKeyword: "espresso"})
		srv.Close()
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
	}
	for _, tc := range cases {
		if got := stripCodeFence(tc.in); got != tc.want {
			t.Fatalf("stripCodeFence(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Hello, World!", "hello-world"},
		{"Go 1.22   Released", "go-1-22-released"},
		{"Already-Slugged", "already-slugged"},
		{"  trim  me  ", "trim-me"},
		{"---", ""},
		{"CAFÉ au lait", "caf-au-lait"},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Fatalf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
