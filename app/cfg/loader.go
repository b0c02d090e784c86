package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBPath  string `long:"db-path" env:"DB_PATH" default:"./rss-planner.db" description:"SQLite database file"`
	SeedDir string `long:"seed-dir" env:"SEED_DIR" default:"./seed" description:"Directory with YAML seed files for feeds, webhooks and rules"`

	// Application configuration
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl      string `long:"base-url" env:"BASE_URL" description:"Public base URL used to build the webhook callback URL"`
	WorkerCount  int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of background workers for feed processing"`
	Schedule     string `long:"schedule" env:"SCHEDULE" default:"@every 1m" description:"Cron expression for the due-feed sweep"`
	BatchSize    int    `long:"batch-size" env:"BATCH_SIZE" default:"10" description:"Maximum number of due feeds processed per sweep"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for the admin API (optional)"`

	// Feed processing
	FetchTimeout     int  `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30" description:"Feed fetch timeout in seconds"`
	MaxItemsPerFetch int  `long:"max-items-per-fetch" env:"MAX_ITEMS_PER_FETCH" default:"50" description:"Maximum number of items processed per fetch"`
	NoHashDedup      bool `long:"no-hash-dedup" env:"NO_HASH_DEDUP" description:"Disable content hash deduplication for items without guid and link"`

	// Webhook dispatch
	DispatchRetries bool `long:"dispatch-retries" env:"DISPATCH_RETRIES" description:"Retry failed dispatches up to the webhook's retry_attempts"`
	DispatchRate    int  `long:"dispatch-rate" env:"DISPATCH_RATE" default:"0" description:"Maximum dispatches per window (0 disables the limit)"`
	DispatchWindow  int  `long:"dispatch-window" env:"DISPATCH_WINDOW" default:"3600" description:"Dispatch rate window in seconds"`

	ActivityLogLevel string `long:"activity-log-level" env:"ACTIVITY_LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warning" choice:"error" choice:"critical" description:"Minimum level persisted to the activity log"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" description:"User agent string for HTTP requests (default RSS-Planner/<version>)"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`

	Serve    struct{} `command:"serve" description:"Run the scheduler and HTTP server (default)"`
	Fetch    struct{} `command:"fetch" description:"Fetch all due feeds once and exit"`
	Migrate  struct{} `command:"migrate" description:"Apply database migrations and exit"`
	Validate struct {
		Args struct {
			URL string `positional-arg-name:"url" required:"yes"`
		} `positional-args:"yes"`
	} `command:"validate" description:"Validate a feed URL and exit"`
}

// Load reads .env (when present), environment variables and the given
// command-line arguments. It returns nil without error when help was shown.
func Load(args []string) (*Cfg, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)
	parser.SubcommandsOptional = true

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:           raw.DBPath,
		SeedDir:          raw.SeedDir,
		Port:             raw.Port,
		BaseUrl:          raw.BaseUrl,
		WorkerCount:      max(raw.WorkerCount, 1),
		Schedule:         raw.Schedule,
		BatchSize:        max(raw.BatchSize, 1),
		APIAccessKey:     raw.APIAccessKey,
		FetchTimeout:     time.Duration(raw.FetchTimeout) * time.Second,
		MaxItemsPerFetch: raw.MaxItemsPerFetch,
		HashDedup:        !raw.NoHashDedup,
		DispatchRetries:  raw.DispatchRetries,
		DispatchRate:     raw.DispatchRate,
		DispatchWindow:   time.Duration(raw.DispatchWindow) * time.Second,
		ActivityLogLevel: raw.ActivityLogLevel,
		Timezone:         raw.Timezone,
		Debug:            raw.Debug,
		Version:          GetVersion(),
		Command:          CommandServe,
	}
	cfg.UserAgent = cmp.Or(raw.UserAgent, "RSS-Planner/"+cfg.Version)

	if parser.Active != nil {
		cfg.Command = Command(parser.Active.Name)
	}
	if cfg.Command == CommandValidate {
		cfg.ValidateURL = raw.Validate.Args.URL
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	return cfg, nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return err
		}
		time.Local = loc
	}
	return nil
}
