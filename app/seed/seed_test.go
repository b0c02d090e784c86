package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-planner/app/database"
)

const seedYAML = `
feeds:
  - name: go-blog
    url: https://go.dev/blog/feed.atom
    polling_interval: 1800
    default_category: Go
    settings:
      extract_content: true
      max_items: 20
  - name: paused
    url: https://example.com/paused.xml
    enabled: false
webhooks:
  - name: rewrite
    url: https://n8n.example.com/webhook/rewrite
    processing_type: seo_optimize
    retry_attempts: 2
rules:
  - name: go releases
    feed: go-blog
    webhook: rewrite
    priority: 5
    conditions:
      - type: title_condition
        operator: contains
        value: release
    actions:
      - type: send_to_webhook
      - type: assign_tags
        value: go, release
`

func writeSeed(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestLoader_MissingDirectory(t *testing.T) {
	s, err := NewLoader(filepath.Join(t.TempDir(), "nope")).Load()
	require.NoError(t, err)
	assert.Empty(t, s.Feeds)
}

func TestLoader_Load(t *testing.T) {
	dir := writeSeed(t, map[string]string{
		"01-main.yml":   seedYAML,
		"02-extra.yaml": "feeds:\n  - name: extra\n    url: https://extra.example.com/rss\n",
		"notes.txt":     "ignored",
	})

	s, err := NewLoader(dir).Load()
	require.NoError(t, err)
	require.Len(t, s.Feeds, 3)
	assert.Equal(t, "extra", s.Feeds[2].Name)
	assert.Equal(t, 1800, s.Feeds[0].PollingInterval)
	require.Len(t, s.Rules, 1)
	assert.Equal(t, "rewrite", s.Rules[0].Webhook)
}

func TestLoader_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"feed without url", "feeds:\n  - name: a\n"},
		{"duplicate webhook", "webhooks:\n  - {name: a, url: http://a}\n  - {name: a, url: http://b}\n"},
		{"unknown processing type", "webhooks:\n  - {name: a, url: http://a, processing_type: magic}\n"},
		{"rule with unknown feed", "rules:\n  - {name: r, feed: missing}\n"},
		{"rule with bad condition", "rules:\n  - name: r\n    conditions:\n      - {type: sentiment}\n"},
		{"malformed yaml", "feeds: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(writeSeed(t, map[string]string{"seed.yml": tt.yaml})).Load()
			assert.Error(t, err)
		})
	}
}

func TestSyncer_Sync(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = database.MigrateUp(db)
	require.NoError(t, err)

	feeds := database.NewFeedRepository(db)
	webhooks := database.NewWebhookRepository(db)
	ruleRepo := database.NewRuleRepository(db)
	syncer := NewSyncer(feeds, webhooks, ruleRepo)
	ctx := context.Background()

	s, err := NewLoader(writeSeed(t, map[string]string{"seed.yml": seedYAML})).Load()
	require.NoError(t, err)

	report, err := syncer.Sync(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, &SyncReport{FeedsCreated: 2, WebhooksCreated: 1, RulesCreated: 1}, report)

	hook, err := webhooks.GetWebhookByName(ctx, "rewrite")
	require.NoError(t, err)
	require.NotNil(t, hook)
	assert.Len(t, hook.AuthToken, 32)
	assert.Equal(t, database.ProcessingSEOOptimize, hook.ProcessingType)
	assert.True(t, hook.Active)

	goBlog, err := feeds.GetFeedByURL(ctx, "https://go.dev/blog/feed.atom")
	require.NoError(t, err)
	assert.Equal(t, 1800, goBlog.PollingInterval)
	assert.Equal(t, true, goBlog.Settings["extract_content"])

	paused, err := feeds.GetFeedByURL(ctx, "https://example.com/paused.xml")
	require.NoError(t, err)
	assert.Equal(t, database.FeedStatusInactive, paused.Status)

	rule, err := ruleRepo.GetRuleByName(ctx, "go releases")
	require.NoError(t, err)
	require.NotNil(t, rule.FeedID)
	assert.Equal(t, goBlog.ID, *rule.FeedID)
	assert.Equal(t, hook.ID, *rule.WebhookID)
	assert.Equal(t, 5, rule.Priority)

	report, err = syncer.Sync(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, &SyncReport{FeedsUpdated: 2, WebhooksUpdated: 1, RulesUpdated: 1}, report)

	again, err := webhooks.GetWebhookByName(ctx, "rewrite")
	require.NoError(t, err)
	assert.Equal(t, hook.AuthToken, again.AuthToken)

	all, err := feeds.ListFeeds(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
