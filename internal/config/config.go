package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      App      `mapstructure:"app"`
	AI       AI       `mapstructure:"ai"`
	Pipeline Pipeline `mapstructure:"pipeline"`
	Cache    Cache    `mapstructure:"cache"`
	Sources  Sources  `mapstructure:"sources"`
	Report   Report   `mapstructure:"report"`
	Server   Server   `mapstructure:"server"`
	Schedule Schedule `mapstructure:"schedule"`
	Logging  Logging  `mapstructure:"logging"`
}

// App holds general application configuration
type App struct {
	Debug   bool   `mapstructure:"debug"`
	DataDir string `mapstructure:"data_dir"`
}

// AI holds AI service configuration
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey              string  `mapstructure:"api_key"`
	Model               string  `mapstructure:"model"`
	Timeout             string  `mapstructure:"timeout"`
	MaxTokens           int32   `mapstructure:"max_tokens"`
	Temperature         float32 `mapstructure:"temperature"`
	EmbeddingModel      string  `mapstructure:"embedding_model"`
	EmbeddingDimensions int32   `mapstructure:"embedding_dimensions"`
	RequestsPerSecond   float64 `mapstructure:"requests_per_second"`
	Burst               int     `mapstructure:"burst"`
}

// Pipeline holds the processing parameters
type Pipeline struct {
	MaxTopics          int     `mapstructure:"max_topics"`
	MinTopicSize       int     `mapstructure:"min_topic_size"`
	Workers            int     `mapstructure:"workers"`
	CallTimeout        string  `mapstructure:"call_timeout"`
	ClusteringStrategy string  `mapstructure:"clustering_strategy"`
	InputTokenBudget   int     `mapstructure:"input_token_budget"`
	AudienceProfile    string  `mapstructure:"audience_profile"`
	Retry              Retry   `mapstructure:"retry"`
	KMeans             KMeans  `mapstructure:"kmeans"`
	Louvain            Louvain `mapstructure:"louvain"`
}

// KMeans tunes the k-means strategy
type KMeans struct {
	MaxIterations int     `mapstructure:"max_iterations"`
	MinSilhouette float64 `mapstructure:"min_silhouette"`
}

// Louvain tunes the community detection strategy
type Louvain struct {
	Resolution    float64 `mapstructure:"resolution"`
	MinSimilarity float64 `mapstructure:"min_similarity"`
	MaxNeighbors  int     `mapstructure:"max_neighbors"`
}

// Retry holds the retry policy for external calls
type Retry struct {
	MaxAttempts int    `mapstructure:"max_attempts"`
	BaseDelay   string `mapstructure:"base_delay"`
	MaxDelay    string `mapstructure:"max_delay"`
}

// Cache holds embedding cache configuration
type Cache struct {
	Directory  string `mapstructure:"directory"`
	Persistent bool   `mapstructure:"persistent"`
	MaxAge     string `mapstructure:"max_age"` // Persisted embeddings older than this are dropped at startup; empty keeps them
}

// Sources holds document source configuration
type Sources struct {
	LocalDir        string   `mapstructure:"local_dir"`
	CredentialsFile string   `mapstructure:"credentials_file"`
	PDFFolderID     string   `mapstructure:"pdf_folder_id"`
	LinkDocID       string   `mapstructure:"link_doc_id"`
	URLs            []string `mapstructure:"urls"`
	FetchTimeout    string   `mapstructure:"fetch_timeout"`
	UserAgent       string   `mapstructure:"user_agent"`
}

// Report holds report rendering and delivery configuration
type Report struct {
	Title               string `mapstructure:"title"`
	OutputDir           string `mapstructure:"output_dir"`
	DriveOutputFolderID string `mapstructure:"drive_output_folder_id"`
}

// Server holds HTTP control surface configuration
type Server struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	APIKey         string   `mapstructure:"api_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RequestTimeout string   `mapstructure:"request_timeout"`
}

// Schedule holds scheduled run configuration
type Schedule struct {
	Enabled      bool   `mapstructure:"enabled"`
	Cron         string `mapstructure:"cron"`
	RunOnStartup bool   `mapstructure:"run_on_startup"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".bireport")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", ".bireport")

	viper.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	viper.SetDefault("ai.gemini.timeout", "60s")
	viper.SetDefault("ai.gemini.max_tokens", 2048)
	viper.SetDefault("ai.gemini.temperature", 0.3)
	viper.SetDefault("ai.gemini.embedding_model", "gemini-embedding-001")
	viper.SetDefault("ai.gemini.embedding_dimensions", 768)
	viper.SetDefault("ai.gemini.requests_per_second", 5.0)
	viper.SetDefault("ai.gemini.burst", 5)

	viper.SetDefault("pipeline.max_topics", 10)
	viper.SetDefault("pipeline.min_topic_size", 3)
	viper.SetDefault("pipeline.workers", 4)
	viper.SetDefault("pipeline.call_timeout", "90s")
	viper.SetDefault("pipeline.clustering_strategy", "kmeans")
	viper.SetDefault("pipeline.input_token_budget", 6000)
	viper.SetDefault("pipeline.audience_profile", "Executive leadership team focused on market trends, competition and strategic opportunities")
	viper.SetDefault("pipeline.retry.max_attempts", 3)
	viper.SetDefault("pipeline.retry.base_delay", "1s")
	viper.SetDefault("pipeline.retry.max_delay", "30s")
	viper.SetDefault("pipeline.kmeans.max_iterations", 100)
	viper.SetDefault("pipeline.kmeans.min_silhouette", 0.25)
	viper.SetDefault("pipeline.louvain.resolution", 1.0)
	viper.SetDefault("pipeline.louvain.min_similarity", 0.3)
	viper.SetDefault("pipeline.louvain.max_neighbors", 10)

	viper.SetDefault("cache.directory", ".bireport")
	viper.SetDefault("cache.persistent", true)

	viper.SetDefault("sources.fetch_timeout", "30s")
	viper.SetDefault("sources.user_agent", "bireport/1.0")

	viper.SetDefault("report.title", "Monthly Business Intelligence Report")
	viper.SetDefault("report.output_dir", "reports")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"*"})
	viper.SetDefault("server.request_timeout", "60s")

	viper.SetDefault("schedule.enabled", false)
	viper.SetDefault("schedule.cron", "0 0 1 * *")
	viper.SetDefault("schedule.run_on_startup", false)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// bindEnvironmentVariables binds well-known environment variables to config keys
func bindEnvironmentVariables() {
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_API_KEY",
		"BIREPORT_GEMINI_API_KEY",
	})
	bindEnvKeys("sources.credentials_file", []string{
		"GOOGLE_APPLICATION_CREDENTIALS",
		"GOOGLE_CREDENTIALS_PATH",
	})
	bindEnvKeys("sources.pdf_folder_id", []string{
		"PDF_FOLDER_ID",
		"BIREPORT_PDF_FOLDER_ID",
	})
	bindEnvKeys("sources.link_doc_id", []string{
		"LINK_DOC_ID",
		"BIREPORT_LINK_DOC_ID",
	})
	bindEnvKeys("report.drive_output_folder_id", []string{
		"OUTPUT_FOLDER_ID",
		"BIREPORT_OUTPUT_FOLDER_ID",
	})
	bindEnvKeys("server.api_key", []string{
		"API_KEY",
		"BIREPORT_API_KEY",
	})
	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"BIREPORT_DEBUG",
	})
	bindEnvKeys("logging.level", []string{
		"LOG_LEVEL",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig expands paths and validates durations
func postProcessConfig(config *Config) error {
	config.Cache.Directory = expandPath(config.Cache.Directory)
	config.Report.OutputDir = expandPath(config.Report.OutputDir)
	config.Sources.LocalDir = expandPath(config.Sources.LocalDir)
	config.Sources.CredentialsFile = expandPath(config.Sources.CredentialsFile)

	durations := map[string]string{
		"ai.gemini.timeout":         config.AI.Gemini.Timeout,
		"pipeline.call_timeout":     config.Pipeline.CallTimeout,
		"pipeline.retry.base_delay": config.Pipeline.Retry.BaseDelay,
		"pipeline.retry.max_delay":  config.Pipeline.Retry.MaxDelay,
		"cache.max_age":             config.Cache.MaxAge,
		"sources.fetch_timeout":     config.Sources.FetchTimeout,
		"server.request_timeout":    config.Server.RequestTimeout,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	return nil
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures the pipeline parameters are usable
func validateConfig(config *Config) error {
	var errors []string

	if config.Pipeline.MaxTopics < 1 {
		errors = append(errors, "pipeline.max_topics must be at least 1")
	}
	if config.Pipeline.MinTopicSize < 1 {
		errors = append(errors, "pipeline.min_topic_size must be at least 1")
	}
	if config.Pipeline.Workers < 1 {
		errors = append(errors, "pipeline.workers must be at least 1")
	}
	if config.Pipeline.Retry.MaxAttempts < 1 {
		errors = append(errors, "pipeline.retry.max_attempts must be at least 1")
	}
	if config.Pipeline.InputTokenBudget < 1 {
		errors = append(errors, "pipeline.input_token_budget must be positive")
	}

	if config.Pipeline.KMeans.MaxIterations < 1 {
		errors = append(errors, "pipeline.kmeans.max_iterations must be at least 1")
	}
	if config.Pipeline.Louvain.Resolution <= 0 {
		errors = append(errors, "pipeline.louvain.resolution must be positive")
	}
	if config.Pipeline.Louvain.MaxNeighbors < 1 {
		errors = append(errors, "pipeline.louvain.max_neighbors must be at least 1")
	}

	switch config.Pipeline.ClusteringStrategy {
	case "kmeans", "louvain":
	default:
		errors = append(errors, fmt.Sprintf("Unknown clustering strategy: %s. Supported: kmeans, louvain", config.Pipeline.ClusteringStrategy))
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		errors = append(errors, fmt.Sprintf("server.port out of range: %d", config.Server.Port))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Duration parses a validated duration string, falling back to def.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// HasGeminiKey reports whether an AI service key is configured.
func (c *Config) HasGeminiKey() bool { return c.AI.Gemini.APIKey != "" }

// Public returns the non-sensitive subset exposed by the config endpoint.
func (c *Config) Public() map[string]any {
	return map[string]any{
		"report_title":        c.Report.Title,
		"max_topics":          c.Pipeline.MaxTopics,
		"min_topic_size":      c.Pipeline.MinTopicSize,
		"clustering_strategy": c.Pipeline.ClusteringStrategy,
		"workers":             c.Pipeline.Workers,
		"embedding_model":     c.AI.Gemini.EmbeddingModel,
		"generation_model":    c.AI.Gemini.Model,
		"schedule_cron":       c.Schedule.Cron,
		"schedule_enabled":    c.Schedule.Enabled,
		"persistent_cache":    c.Cache.Persistent,
		"cache_max_age":       c.Cache.MaxAge,
		"audience_profile":    c.Pipeline.AudienceProfile,
	}
}

// Convenience getters
func GetPipeline() Pipeline { return Get().Pipeline }
func GetReport() Report     { return Get().Report }
func GetServer() Server     { return Get().Server }
func GetLogging() Logging   { return Get().Logging }

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
