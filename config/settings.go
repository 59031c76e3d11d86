package config

import (
	"os"
	"strings"
)

// DefaultRemoteAPIURL is the execution proxy used when no local API is selected.
const DefaultRemoteAPIURL = "https://api.tost.ai"

// Settings is an immutable snapshot of the preferences a job needs.
type Settings struct {
	Token               string `json:"tostaiToken"`
	WebhookURL          string `json:"webhookUrl"`
	MaxDimension        int    `json:"maxDimension"`
	MaxDimensionEnabled bool   `json:"maxDimensionEnabled"`
	UseLocalAPI         bool   `json:"useLocalApi"`
	LocalAPIURL         string `json:"localApiUrl"`
	LocalUploadURL      string `json:"localUploadUrl"`
	UIScale             int    `json:"uiScale"`
}

// Settings returns the current preferences with defaults applied.
func (p *Prefs) Settings() Settings {
	return Settings{
		Token:               p.String(KeyToken, ""),
		WebhookURL:          p.String(KeyWebhookURL, ""),
		MaxDimension:        p.Int(KeyMaxDimension, DefaultMaxDimension),
		MaxDimensionEnabled: p.Bool(KeyMaxDimensionEnabled, true),
		UseLocalAPI:         p.Bool(KeyUseLocalAPI, false),
		LocalAPIURL:         p.String(KeyLocalAPIURL, DefaultLocalAPIURL),
		LocalUploadURL:      p.String(KeyLocalUploadURL, DefaultLocalUploadURL),
		UIScale:             p.Int(KeyUIScale, DefaultUIScale),
	}
}

// Apply stores every field of s and saves the file.
func (p *Prefs) Apply(s Settings) error {
	p.Set(KeyToken, s.Token)
	p.Set(KeyWebhookURL, s.WebhookURL)
	p.Set(KeyMaxDimension, s.MaxDimension)
	p.Set(KeyMaxDimensionEnabled, s.MaxDimensionEnabled)
	p.Set(KeyUseLocalAPI, s.UseLocalAPI)
	p.Set(KeyLocalAPIURL, s.LocalAPIURL)
	p.Set(KeyLocalUploadURL, s.LocalUploadURL)
	p.Set(KeyUIScale, s.UIScale)
	return p.Save()
}

// Env is the process environment the server reads at startup.
type Env struct {
	UploadURL    string
	UploadBucket string
	ServicesFile string
	PrefsFile    string
	MattingURL   string
	GLBRenderURL string
	RemoteAPIURL string
	// LocalServices lists the service ids offered in local API mode.
	LocalServices []string
}

func LoadEnv() Env {
	return Env{
		UploadURL:    os.Getenv("UPLOAD_URL"),
		UploadBucket: os.Getenv("UPLOAD_BUCKET"),
		ServicesFile: getenv("SERVICES_FILE", "services.json"),
		PrefsFile:    getenv("PREFS_FILE", "preferences.json"),
		MattingURL:   os.Getenv("MATTING_URL"),
		GLBRenderURL: os.Getenv("GLB_RENDER_URL"),
		RemoteAPIURL: getenv("REMOTE_API_URL", DefaultRemoteAPIURL),

		LocalServices: splitList(os.Getenv("LOCAL_API_SERVICES")),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
