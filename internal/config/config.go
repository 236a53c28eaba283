package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Recognition RecognitionConfig `yaml:"recognition"`
	Gallery     GalleryConfig     `yaml:"gallery"`
	Detector    DetectorConfig    `yaml:"detector"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Redis       RedisConfig       `yaml:"-"`
	Log         LogConfig         `yaml:"-"`
	Web         WebConfig         `yaml:"-"`
}

type RecognitionConfig struct {
	Threshold        float64 `yaml:"threshold"`
	Metric           string  `yaml:"metric"` // cosine or euclidean_l2
	MatchConcurrency int     `yaml:"match_concurrency"`
}

type GalleryConfig struct {
	Path           string `yaml:"path"`             // Identity Store root directory
	RebuildWorkers int    `yaml:"rebuild_workers"`  // parallel reference embeddings during a rebuild
	HNSWMinEntries int    `yaml:"hnsw_min_entries"` // use an HNSW graph from this many references on (0 = never)
}

type DetectorConfig struct {
	Backend string     `yaml:"backend"` // pigo, remote or dlib
	Pigo    PigoConfig `yaml:"pigo"`
}

// PigoConfig holds the cascade parameters of the pure Go detector.
type PigoConfig struct {
	CascadePath      string  `yaml:"cascade_path"`
	MinSize          int     `yaml:"min_size"`
	MaxSize          int     `yaml:"max_size"`
	ShiftFactor      float64 `yaml:"shift_factor"`
	ScaleFactor      float64 `yaml:"scale_factor"`
	IoUThreshold     float64 `yaml:"iou_threshold"`
	QualityThreshold float32 `yaml:"quality_threshold"`
	QualityCeiling   float32 `yaml:"quality_ceiling"` // detection quality mapped to confidence 1.0
}

type EmbedderConfig struct {
	Backend       string `yaml:"backend"` // remote or dlib
	Model         string `yaml:"model"`   // name of the representation model, recorded in the gallery index
	URL           string `yaml:"url"`     // embedding server base URL
	DlibModelsDir string `yaml:"dlib_models_dir"`
}

type RedisConfig struct {
	Address  string // empty disables the shared generation counter
	Password string
	DB       int
	Key      string
}

type LogConfig struct {
	Level string
	File  string // optional rotated log file
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // extra CORS origins; localhost is always allowed
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma-separated environment variable, skipping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Defaults returns the configuration embedded in defaults.yaml without any
// environment overrides.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

func Load() *Config {
	cfg := Defaults()

	cfg.Recognition.Threshold = envFloat("RECOGNITION_THRESHOLD", cfg.Recognition.Threshold)
	cfg.Recognition.Metric = envString("GALLERY_METRIC", cfg.Recognition.Metric)
	cfg.Recognition.MatchConcurrency = envInt("RECOGNITION_CONCURRENCY", cfg.Recognition.MatchConcurrency)

	cfg.Gallery.Path = envString("FACES_DB_PATH", cfg.Gallery.Path)
	cfg.Gallery.RebuildWorkers = envInt("GALLERY_REBUILD_WORKERS", cfg.Gallery.RebuildWorkers)
	cfg.Gallery.HNSWMinEntries = envInt("GALLERY_HNSW_MIN_ENTRIES", cfg.Gallery.HNSWMinEntries)

	cfg.Detector.Backend = envString("DETECTOR_BACKEND", cfg.Detector.Backend)
	cfg.Detector.Pigo.CascadePath = envString("PIGO_CASCADE_PATH", cfg.Detector.Pigo.CascadePath)

	cfg.Embedder.Backend = envString("EMBEDDER_BACKEND", cfg.Embedder.Backend)
	cfg.Embedder.Model = envString("EMBEDDING_MODEL", cfg.Embedder.Model)
	cfg.Embedder.URL = envString("EMBEDDING_URL", cfg.Embedder.URL)
	cfg.Embedder.DlibModelsDir = envString("DLIB_MODELS_DIR", cfg.Embedder.DlibModelsDir)

	cfg.Redis = RedisConfig{
		Address:  os.Getenv("REDIS_ADDRESS"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
		Key:      envString("REDIS_GENERATION_KEY", "deepsecurity:gallery:generation"),
	}
	cfg.Log = LogConfig{
		Level: envString("LOG_LEVEL", "info"),
		File:  os.Getenv("LOG_FILE"),
	}
	cfg.Web = WebConfig{
		Host: envString("WEB_HOST", "0.0.0.0"),
		Port: envInt("WEB_PORT", 8000),

		AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
	}

	return cfg
}
