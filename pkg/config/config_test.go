package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

type testConfig struct {
	Feed struct {
		BaseURL string        `yaml:"base_url" json:"base_url"`
		Timeout time.Duration `yaml:"timeout" json:"timeout"`
	} `yaml:"feed" json:"feed"`
	Buffer struct {
		Collection string   `yaml:"collection" json:"collection"`
		Category   string   `yaml:"category" json:"category"`
		Capacity   int      `yaml:"capacity" json:"capacity"`
		Extensions []string `yaml:"extensions" json:"extensions"`
	} `yaml:"buffer" json:"buffer"`
	Notify *struct {
		Enabled bool   `yaml:"enabled" json:"enabled"`
		URL     string `yaml:"url" json:"url"`
	} `yaml:"notify" json:"notify"`
	Ratio  float64 `yaml:"sample-ratio" json:"sample_ratio"`
	Secret string  `yaml:"-" json:"-"`
}

const testYAML = `
feed:
  base_url: https://feed.example
  timeout: 750ms
buffer:
  collection: pics
  category: top
  capacity: 10
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	var cfg testConfig
	if err := Load(writeFile(t, "feedbuffer.yaml", testYAML), &cfg); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Feed.BaseURL != "https://feed.example" {
		t.Errorf("Feed.BaseURL = %v", cfg.Feed.BaseURL)
	}
	if cfg.Feed.Timeout != 750*time.Millisecond {
		t.Errorf("Feed.Timeout = %v, want 750ms", cfg.Feed.Timeout)
	}
	if cfg.Buffer.Capacity != 10 || cfg.Buffer.Category != "top" {
		t.Errorf("Buffer = %+v", cfg.Buffer)
	}
}

func TestLoadYAML_UnknownKey(t *testing.T) {
	var cfg testConfig
	err := Load(writeFile(t, "feedbuffer.yml", "buffer:\n  capacityy: 3\n"), &cfg)
	if err == nil || !strings.Contains(err.Error(), "capacityy") {
		t.Fatalf("Load error = %v, want unknown field", err)
	}
}

func TestLoadYAML_Empty(t *testing.T) {
	var cfg testConfig
	cfg.Buffer.Capacity = 7
	if err := Load(writeFile(t, "empty.yaml", ""), &cfg); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Buffer.Capacity != 7 {
		t.Errorf("empty file changed defaults: %+v", cfg.Buffer)
	}
}

func TestLoadJSON(t *testing.T) {
	content := `{
  "feed": {"base_url": "https://feed.example", "timeout": 2000000000},
  "buffer": {"collection": "earthporn", "capacity": 4}
}`
	var cfg testConfig
	if err := Load(writeFile(t, "feedbuffer.JSON", content), &cfg); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Feed.Timeout != 2*time.Second {
		t.Errorf("Feed.Timeout = %v, want 2s", cfg.Feed.Timeout)
	}
	if cfg.Buffer.Collection != "earthporn" {
		t.Errorf("Buffer.Collection = %v", cfg.Buffer.Collection)
	}

	if err := Load(writeFile(t, "bad.json", `{"nope": 1}`), &cfg); err == nil {
		t.Error("LoadJSON accepted an unknown field")
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("FEEDBUFFER_BUFFER_CAPACITY", "32")
	t.Setenv("FEEDBUFFER_FEED_TIMEOUT", "3s")
	t.Setenv("FEEDBUFFER_BUFFER_EXTENSIONS", ".png, .webp")
	t.Setenv("FEEDBUFFER_NOTIFY_ENABLED", "true")
	t.Setenv("FEEDBUFFER_SAMPLE_RATIO", "0.25")
	t.Setenv("FEEDBUFFER_SECRET", "ignored")

	var cfg testConfig
	if err := LoadWithEnv(writeFile(t, "feedbuffer.yaml", testYAML), "FEEDBUFFER", &cfg); err != nil {
		t.Fatalf("LoadWithEnv failed: %v", err)
	}

	if cfg.Buffer.Capacity != 32 {
		t.Errorf("Buffer.Capacity = %d, want 32", cfg.Buffer.Capacity)
	}
	if cfg.Feed.Timeout != 3*time.Second {
		t.Errorf("Feed.Timeout = %v, want 3s", cfg.Feed.Timeout)
	}
	if got := strings.Join(cfg.Buffer.Extensions, "|"); got != ".png|.webp" {
		t.Errorf("Buffer.Extensions = %q", got)
	}
	if cfg.Notify == nil || !cfg.Notify.Enabled {
		t.Errorf("Notify = %+v, want enabled", cfg.Notify)
	}
	if cfg.Ratio != 0.25 {
		t.Errorf("Ratio = %v, want 0.25", cfg.Ratio)
	}
	if cfg.Secret != "" {
		t.Errorf("Secret = %q, want untouched", cfg.Secret)
	}
	// No override, file value kept.
	if cfg.Buffer.Collection != "pics" {
		t.Errorf("Buffer.Collection = %v, want pics", cfg.Buffer.Collection)
	}
}

func TestLoadWithEnv_NoFile(t *testing.T) {
	t.Setenv("APP_BUFFER_COLLECTION", "wallpapers")

	var cfg testConfig
	if err := LoadWithEnv("", "", &cfg); err != nil {
		t.Fatalf("LoadWithEnv failed: %v", err)
	}
	if cfg.Buffer.Collection != "wallpapers" {
		t.Errorf("Buffer.Collection = %v", cfg.Buffer.Collection)
	}
}

func TestApplyEnvOverrides_Invalid(t *testing.T) {
	tests := map[string]string{
		"FEEDBUFFER_BUFFER_CAPACITY": "ten",
		"FEEDBUFFER_FEED_TIMEOUT":    "soon",
		"FEEDBUFFER_NOTIFY_ENABLED":  "yes please",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			var cfg testConfig
			if err := ApplyEnvOverrides("FEEDBUFFER", &cfg); err == nil {
				t.Errorf("%s=%q accepted", key, value)
			}
		})
	}

	var notStruct int
	if err := ApplyEnvOverrides("FEEDBUFFER", &notStruct); err == nil {
		t.Error("ApplyEnvOverrides accepted a non-struct target")
	}
}

func TestValidators(t *testing.T) {
	valid := func() *testConfig {
		var cfg testConfig
		cfg.Feed.BaseURL = "https://feed.example"
		cfg.Feed.Timeout = 10 * time.Second
		cfg.Buffer.Collection = "pics"
		cfg.Buffer.Category = "HOT"
		cfg.Buffer.Capacity = 10
		return &cfg
	}

	validators := []Validator{
		RequiredFields("Feed.BaseURL", "Buffer.Collection"),
		RangeValidator("Buffer.Capacity", 2, 1000),
		RangeValidator("Feed.Timeout", 0.1, 60),
		StringLengthValidator("Buffer.Collection", 1, 21),
		PatternValidator("Buffer.Collection", regexp.MustCompile(`[A-Za-z0-9_]+`)),
		OneOfValidator("Buffer.Category", "hot", "new", "top", "rising"),
	}

	if err := Validate(valid(), validators...); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*testConfig)
		want   string
	}{
		{"missing base url", func(c *testConfig) { c.Feed.BaseURL = "" }, "Feed.BaseURL"},
		{"capacity too small", func(c *testConfig) { c.Buffer.Capacity = 1 }, "Buffer.Capacity"},
		{"timeout too long", func(c *testConfig) { c.Feed.Timeout = 2 * time.Minute }, "Feed.Timeout"},
		{"collection too long", func(c *testConfig) { c.Buffer.Collection = strings.Repeat("a", 22) }, "length 22"},
		{"collection with slash", func(c *testConfig) { c.Buffer.Collection = "pics/../admin" }, "does not match"},
		{"unknown category", func(c *testConfig) { c.Buffer.Category = "controversial" }, "not one of"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg, validators...)
			if err == nil {
				t.Fatal("Validate passed")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidators_FieldNotFound(t *testing.T) {
	cfg := &testConfig{}
	for _, v := range []Validator{
		RequiredFields("Feed.Nope"),
		RangeValidator("Buffer.Nope", 0, 1),
		StringLengthValidator("Nope", 0, 1),
		OneOfValidator("Notify.Enabled", true),
	} {
		if err := v.Validate(cfg); err == nil || !strings.Contains(err.Error(), "not found") {
			t.Errorf("Validate error = %v, want not found", err)
		}
	}
}

func TestMarshalYAML_RoundTrip(t *testing.T) {
	var cfg testConfig
	if err := Load(writeFile(t, "in.yaml", testYAML), &cfg); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	out, err := MarshalYAML(&cfg)
	if err != nil {
		t.Fatalf("MarshalYAML failed: %v", err)
	}
	if !strings.Contains(string(out), "timeout: 750ms") {
		t.Errorf("durations should render as strings:\n%s", out)
	}

	var again testConfig
	if err := Load(writeFile(t, "out.yaml", string(out)), &again); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if again.Feed != cfg.Feed || again.Buffer.Capacity != cfg.Buffer.Capacity {
		t.Errorf("reloaded config differs: %+v vs %+v", again, cfg)
	}
}
