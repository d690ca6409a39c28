// Package config defines the core's configuration surface, loaded from an
// INI file plus environment-variable overrides via go-flags, following the
// same two-source pattern estuary-flow's flow-ingester uses for flow.ini.
package config

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Config is the top-level configuration object for every chatlake binary.
// Struct tags double as go-flags CLI/INI bindings and as the documented
// option names of the external interfaces section.
type Config struct {
	RawLogDir      string `long:"raw-log-dir" ini-name:"raw_log_dir" env:"CHATLAKE_RAW_LOG_DIR" description:"directory holding day-logs" default:"./data/raw"`
	PartitionRoot  string `long:"partition-root" ini-name:"partition_root" env:"CHATLAKE_PARTITION_ROOT" description:"root of the columnar store" default:"./data/lake"`
	CheckpointDir  string `long:"checkpoint-dir" ini-name:"checkpoint_dir" env:"CHATLAKE_CHECKPOINT_DIR" description:"checkpoint storage" default:"./data/checkpoints"`
	MetadataDBPath string `long:"metadata-db-path" ini-name:"metadata_db_path" env:"CHATLAKE_METADATA_DB_PATH" description:"embedded metadata store location" default:"./data/metadata.db"`

	BatchSize       int    `long:"batch-size" ini-name:"batch_size" env:"CHATLAKE_BATCH_SIZE" description:"records per compaction batch" default:"10000"`
	Compression     string `long:"compression" ini-name:"compression" env:"CHATLAKE_COMPRESSION" description:"codec name for columnar files (snappy default, zstd for archive)" default:"snappy"`
	RetentionDaysRaw int   `long:"retention-days-raw" ini-name:"retention_days_raw" env:"CHATLAKE_RETENTION_DAYS_RAW" description:"days to keep raw logs, by file age only (compaction status is not checked)" default:"7"`

	LockTimeoutIngest    int `long:"lock-timeout-ingest-seconds" ini-name:"lock_timeout_ingest_seconds" env:"CHATLAKE_LOCK_TIMEOUT_INGEST_SECONDS" default:"5"`
	LockTimeoutCompact   int `long:"lock-timeout-compact-seconds" ini-name:"lock_timeout_compact_seconds" env:"CHATLAKE_LOCK_TIMEOUT_COMPACT_SECONDS" default:"60"`
	LockTimeoutDailyJob  int `long:"lock-timeout-daily-job-seconds" ini-name:"lock_timeout_daily_job_seconds" env:"CHATLAKE_LOCK_TIMEOUT_DAILY_JOB_SECONDS" default:"300"`

	LLM struct {
		Provider             string `long:"provider" ini-name:"provider" env:"CHATLAKE_LLM_PROVIDER" description:"model provider identifier" default:"openai"`
		Model                string `long:"model" ini-name:"model" env:"CHATLAKE_LLM_MODEL" description:"model name" default:"gpt-4o-mini"`
		APIKey               string `long:"api-key" ini-name:"api_key" env:"CHATLAKE_LLM_API_KEY" description:"secret; must come from environment, never committed config"`
		APIBase              string `long:"api-base" ini-name:"api_base" env:"CHATLAKE_LLM_API_BASE" description:"endpoint URL" default:"https://api.openai.com/v1"`
		MaxTokensPerBatch    int    `long:"max-tokens-per-batch" ini-name:"max_tokens_per_batch" env:"CHATLAKE_LLM_MAX_TOKENS_PER_BATCH" default:"6000"`
		MaxAttempts          int    `long:"max-attempts" ini-name:"max_attempts" env:"CHATLAKE_LLM_MAX_ATTEMPTS" default:"3"`
		RequestTimeoutSeconds int   `long:"request-timeout-seconds" ini-name:"request_timeout_seconds" env:"CHATLAKE_LLM_REQUEST_TIMEOUT_SECONDS" default:"60"`
	} `group:"llm" namespace:"llm" ini-namespace:"llm"`

	Analysis struct {
		MergeThreshold float64 `long:"merge-threshold" ini-name:"merge_threshold" env:"CHATLAKE_ANALYSIS_MERGE_THRESHOLD" default:"0.35"`
		TimeBonus      float64 `long:"time-bonus" ini-name:"time_bonus" env:"CHATLAKE_ANALYSIS_TIME_BONUS" default:"0.1"`
	} `group:"analysis" namespace:"analysis" ini-namespace:"analysis"`
}

// Load parses iniPath (if it exists) and environment overrides into a new
// Config. A missing ini file is not an error: defaults plus environment
// variables are sufficient to run.
func Load(iniPath string) (*Config, error) {
	// .env is loaded best-effort so llm.api_key etc. can live outside the
	// committed ini file in local development; a missing .env is not fatal.
	_ = godotenv.Load()

	var cfg = new(Config)
	var parser = flags.NewParser(cfg, flags.IgnoreUnknown)

	if iniPath != "" {
		if _, err := os.Stat(iniPath); err == nil {
			var iniParser = flags.NewIniParser(parser)
			if err := iniParser.ParseFile(iniPath); err != nil {
				return nil, fmt.Errorf("parsing config %q: %w", iniPath, err)
			}
		}
	}
	if _, err := parser.ParseArgs(nil); err != nil {
		return nil, fmt.Errorf("applying defaults/env: %w", err)
	}
	return cfg, nil
}
