package config

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

type LayerCfg struct {
	Name              string
	Templates         []string
	TileSize          int
	Projection        string
	MaxZoom           int
	WrapDateLine      bool
	UTFGridResolution int
	// JSON is a full layer property object; when set it replaces the fields above.
	JSON string
}

type HighlightCfg struct {
	Fill    string
	Opacity float64
}

type GridCfg struct {
	Source          string
	RedisAddr       string
	CacheSize       int
	TTL             time.Duration
	OpTimeout       time.Duration
	UpstreamTimeout time.Duration
	// UpstreamBaseURL resolves relative tile url templates.
	UpstreamBaseURL string
	FetchWorkers    int
}

type TileEventsCfg struct {
	Enabled   bool
	Brokers   []string
	Topic     string
	QueueSize int
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr             string
	LogLevel         string
	LogConsole       bool
	LogSampleN       int
	StrictTransforms bool
	Layer            LayerCfg
	Highlight        HighlightCfg
	Grid             GridCfg
	TileEvents       TileEventsCfg
	Metrics          MetricsCfg
}

func FromEnv() Config {
	return Config{
		Addr:             getenv("ADDR", ":8090"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogConsole:       getbool("LOG_CONSOLE", false),
		LogSampleN:       getint("LOG_SAMPLE_N", 0),
		StrictTransforms: getbool("STRICT_TRANSFORMS", false),
		Layer: LayerCfg{
			Name:              getenv("LAYER_NAME", "default"),
			Templates:         getlist("TILE_URLS", "/tiles/{z}/{x}/{y}.grid.json"),
			TileSize:          getint("TILE_SIZE", 256),
			Projection:        getenv("LAYER_PROJECTION", "EPSG:900913"),
			MaxZoom:           getint("LAYER_MAX_ZOOM", 18),
			WrapDateLine:      getbool("WRAP_DATELINE", true),
			UTFGridResolution: getint("UTFGRID_RESOLUTION", 4),
			JSON:              strings.TrimSpace(os.Getenv("LAYER_CONFIG")),
		},
		Highlight: HighlightCfg{
			Fill:    getenv("HIGHLIGHT_FILL", "#ffff00"),
			Opacity: getfloat("HIGHLIGHT_OPACITY", 0.6),
		},
		Grid: GridCfg{
			Source:          strings.ToLower(getenv("GRID_SOURCE", "redis")),
			RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
			CacheSize:       getint("GRID_CACHE_SIZE", 1024),
			TTL:             getduration("GRID_TTL", time.Hour),
			OpTimeout:       getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			UpstreamTimeout: getduration("UPSTREAM_TIMEOUT", 5*time.Second),
			UpstreamBaseURL: getenv("UPSTREAM_BASE_URL", ""),
			FetchWorkers:    getint("GRID_FETCH_WORKERS", 8),
		},
		TileEvents: TileEventsCfg{
			Enabled:   getbool("TILE_EVENTS_ENABLED", false),
			Brokers:   getlist("KAFKA_BROKERS", "localhost:9092"),
			Topic:     getenv("KAFKA_TOPIC", "tile-requests"),
			QueueSize: getint("TILE_EVENTS_QUEUE", 1024),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "a,b , c" into [a b c], dropping empty entries
func getlist(k, def string) []string {
	var out []string
	for p := range strings.SplitSeq(getenv(k, def), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
