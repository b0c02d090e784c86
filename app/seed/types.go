package seed

// Seed is the declarative set of feeds, webhooks and rules kept in the
// seed directory. Rules refer to feeds and webhooks by name.
type Seed struct {
	Feeds    []FeedSeed    `yaml:"feeds"`
	Webhooks []WebhookSeed `yaml:"webhooks"`
	Rules    []RuleSeed    `yaml:"rules"`
}

type FeedSeed struct {
	Name                string         `yaml:"name"`
	URL                 string         `yaml:"url"`
	Description         string         `yaml:"description"`
	SourceSite          string         `yaml:"source_site"`
	Language            string         `yaml:"language"`
	PollingInterval     int            `yaml:"polling_interval"`
	DefaultCategory     string         `yaml:"default_category"`
	DefaultAuthor       string         `yaml:"default_author"`
	DefaultTags         string         `yaml:"default_tags"`
	AttributionTemplate string         `yaml:"attribution_template"`
	LicenseNote         string         `yaml:"license_note"`
	Settings            map[string]any `yaml:"settings"`
	Enabled             *bool          `yaml:"enabled"`
}

type WebhookSeed struct {
	Name                string `yaml:"name"`
	URL                 string `yaml:"url"`
	AuthToken           string `yaml:"auth_token"`
	WorkflowName        string `yaml:"workflow_name"`
	WorkflowDescription string `yaml:"workflow_description"`
	ProcessingType      string `yaml:"processing_type"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
	RetryAttempts       int    `yaml:"retry_attempts"`
	TestMode            bool   `yaml:"test_mode"`
	Active              *bool  `yaml:"active"`
}

type RuleSeed struct {
	Name       string           `yaml:"name"`
	Feed       string           `yaml:"feed"`
	Webhook    string           `yaml:"webhook"`
	Priority   int              `yaml:"priority"`
	Conditions []map[string]any `yaml:"conditions"`
	Actions    []map[string]any `yaml:"actions"`
	Active     *bool            `yaml:"active"`
}

func enabled(b *bool) bool {
	return b == nil || *b
}
