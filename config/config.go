package config

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database     DatabaseConfig
	Proxy        ProxyConfig
	Scheduler    SchedulerConfig
	Browser      BrowserConfig
	S3           S3Config
	HTTPAddr     string
	DBPath       string
	LogPath      string
	LogMaxSize   int64
	CreatePolicy string
	SitesDir     string
	Sites        map[string]*SiteConfig

	DetailConcurrency int
}

type DatabaseConfig struct {
	URL string
}

type ProxyConfig struct {
	URL string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type BrowserConfig struct {
	Headless bool
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for DO Spaces, R2, etc.
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("SCRAPE_CRON"),
			Interval: getEnvDuration("SCRAPE_INTERVAL", 0),
		},
		Browser: BrowserConfig{
			Headless: getEnvBool("HEADLESS", true),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		DBPath:       getEnv("DB_PATH", "scraper.db"),
		LogPath:      getEnv("LOG_PATH", "daemon.log"),
		LogMaxSize:   int64(getEnvInt("LOG_MAX_SIZE", 2*1024*1024)),
		CreatePolicy: getEnv("CREATE_POLICY", "skip"),
		SitesDir:     getEnv("SITES_DIR", "config/sites"),
		Sites:        make(map[string]*SiteConfig),

		DetailConcurrency: getEnvInt("DETAIL_CONCURRENCY", 8),
	}

	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSiteConfigs() error {
	entries, err := os.ReadDir(c.SitesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		site, err := LoadSiteConfig(filepath.Join(c.SitesDir, entry.Name()))
		if err != nil {
			return err
		}
		if site.DetailConcurrency == 0 {
			site.DetailConcurrency = c.DetailConcurrency
		}
		c.Sites[site.ID] = site
	}

	return nil
}

// SiteIDs returns the configured site ids in a stable order
func (c *Config) SiteIDs() []string {
	ids := make([]string, 0, len(c.Sites))
	for id := range c.Sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
