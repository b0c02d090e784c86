package cfg

import (
	"strings"
	"time"
)

type Command string

const (
	CommandServe    Command = "serve"
	CommandFetch    Command = "fetch"
	CommandValidate Command = "validate"
	CommandMigrate  Command = "migrate"
)

type Cfg struct {
	// Database configuration
	DBPath  string
	SeedDir string

	// Application configuration
	Port         string
	BaseUrl      string
	WorkerCount  int
	Schedule     string
	BatchSize    int
	APIAccessKey string

	// Feed processing
	FetchTimeout     time.Duration
	MaxItemsPerFetch int
	HashDedup        bool

	// Webhook dispatch
	DispatchRetries bool
	DispatchRate    int
	DispatchWindow  time.Duration

	ActivityLogLevel string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string

	Command     Command
	ValidateURL string
}

// CallbackURL is the public address external workflows report results to.
func (c *Cfg) CallbackURL() string {
	base := strings.TrimRight(c.BaseUrl, "/")
	if base == "" {
		base = "http://localhost:" + c.Port
	}
	return base + "/webhook/callback"
}
