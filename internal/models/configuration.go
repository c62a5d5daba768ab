package models

import (
	"time"
)

// Configuration is the stored generation profile a job refers to.
// Settings hold tunables (chapter count, language, model names, CMS URL);
// Credentials are attached only when explicitly requested and are borrowed
// for the duration of a single run.
type Configuration struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Settings    map[string]any    `json:"settings"`
	Credentials map[string]string `json:"-"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (c *Configuration) settingString(key, def string) string {
	if c.Settings == nil {
		return def
	}
	if v, ok := c.Settings[key].(string); ok && v != "" {
		return v
	}
	return def
}

func (c *Configuration) settingInt(key string, def int) int {
	if c.Settings == nil {
		return def
	}
	switch v := c.Settings[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return def
}

// ChapterCount returns the configured chapter count, defaulting to 5.
func (c *Configuration) ChapterCount() int {
	return c.settingInt("chapter_count", 5)
}

// Language returns the article language, defaulting to English.
func (c *Configuration) Language() string {
	return c.settingString("language", "en")
}

// ChatModel returns the chat model used for structure and content.
func (c *Configuration) ChatModel() string {
	return c.settingString("llm_model", "gpt-4-turbo")
}

// ImageSize returns the generation resolution.
func (c *Configuration) ImageSize() string {
	return c.settingString("image_size", "1024x1024")
}

// ImageQuality returns the generation quality tier.
func (c *Configuration) ImageQuality() string {
	return c.settingString("image_quality", "standard")
}

// ChapterWordTarget returns the per-chapter word target, defaulting to 400.
func (c *Configuration) ChapterWordTarget() int {
	return c.settingInt("chapter_word_target", 400)
}

// DefaultAudience returns the configured audience fallback.
func (c *Configuration) DefaultAudience() string {
	return c.settingString("target_audience", "general readers")
}

// DefaultStyle returns the configured writing-style fallback.
func (c *Configuration) DefaultStyle() string {
	return c.settingString("writing_style", "informative")
}

// CMSBaseURL returns the publishing endpoint base URL.
func (c *Configuration) CMSBaseURL() string {
	return c.settingString("cms_base_url", "")
}

// Credential returns a named credential or "".
func (c *Configuration) Credential(key string) string {
	if c.Credentials == nil {
		return ""
	}
	return c.Credentials[key]
}

// ValidateForRun checks the fields every pipeline run depends on.
func (c *Configuration) ValidateForRun() error {
	if c.ID == "" {
		return &ValidationError{Field: "configuration", Reason: "missing id"}
	}
	if c.ChapterCount() < 1 {
		return &ValidationError{Field: "chapter_count", Reason: "must be at least 1"}
	}
	if len(c.Credentials) == 0 {
		return &ValidationError{Field: "credentials", Reason: "configuration has no credentials"}
	}
	return nil
}
