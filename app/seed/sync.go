package seed

import (
	"cmp"
	"context"
	"fmt"

	"github.com/lysyi3m/rss-planner/app/database"
	"github.com/lysyi3m/rss-planner/app/rules"
	"github.com/lysyi3m/rss-planner/app/webhook"
)

type SyncReport struct {
	FeedsCreated    int
	FeedsUpdated    int
	WebhooksCreated int
	WebhooksUpdated int
	RulesCreated    int
	RulesUpdated    int
}

// Syncer upserts a seed into the stores. Feeds are matched by URL, webhooks
// and rules by name. Runtime state such as counters, fetch state and
// generated tokens is preserved.
type Syncer struct {
	feeds    database.FeedRepository
	webhooks database.WebhookRepository
	rules    database.RuleRepository
}

func NewSyncer(feeds database.FeedRepository, webhooks database.WebhookRepository, rules database.RuleRepository) *Syncer {
	return &Syncer{feeds: feeds, webhooks: webhooks, rules: rules}
}

func (s *Syncer) Sync(ctx context.Context, seed *Seed) (*SyncReport, error) {
	report := &SyncReport{}

	feedIDs := make(map[string]int64, len(seed.Feeds))
	for _, f := range seed.Feeds {
		id, created, err := s.syncFeed(ctx, f)
		if err != nil {
			return report, fmt.Errorf("feed %q: %w", f.Name, err)
		}
		feedIDs[f.Name] = id
		if created {
			report.FeedsCreated++
		} else {
			report.FeedsUpdated++
		}
	}

	webhookIDs := make(map[string]int64, len(seed.Webhooks))
	for _, w := range seed.Webhooks {
		id, created, err := s.syncWebhook(ctx, w)
		if err != nil {
			return report, fmt.Errorf("webhook %q: %w", w.Name, err)
		}
		webhookIDs[w.Name] = id
		if created {
			report.WebhooksCreated++
		} else {
			report.WebhooksUpdated++
		}
	}

	for _, r := range seed.Rules {
		created, err := s.syncRule(ctx, r, feedIDs, webhookIDs)
		if err != nil {
			return report, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if created {
			report.RulesCreated++
		} else {
			report.RulesUpdated++
		}
	}

	return report, nil
}

func (s *Syncer) syncFeed(ctx context.Context, f FeedSeed) (int64, bool, error) {
	existing, err := s.feeds.GetFeedByURL(ctx, f.URL)
	if err != nil {
		return 0, false, err
	}

	feed := existing
	if feed == nil {
		feed = &database.Feed{}
	}
	feed.Name = f.Name
	feed.URL = f.URL
	feed.Description = f.Description
	feed.SourceSite = f.SourceSite
	feed.Language = cmp.Or(f.Language, feed.Language, "en")
	feed.PollingInterval = cmp.Or(f.PollingInterval, feed.PollingInterval, 3600)
	feed.DefaultCategory = f.DefaultCategory
	feed.DefaultAuthor = f.DefaultAuthor
	feed.DefaultTags = f.DefaultTags
	feed.AttributionTemplate = f.AttributionTemplate
	feed.LicenseNote = f.LicenseNote
	feed.Settings = f.Settings

	if existing == nil {
		if !enabled(f.Enabled) {
			feed.Status = database.FeedStatusInactive
		}
		id, err := s.feeds.CreateFeed(ctx, feed)
		return id, true, err
	}

	if err := s.feeds.UpdateFeed(ctx, feed); err != nil {
		return 0, false, err
	}
	if !enabled(f.Enabled) && feed.Status == database.FeedStatusActive {
		if err := s.feeds.SetFeedStatus(ctx, feed.ID, database.FeedStatusInactive); err != nil {
			return 0, false, err
		}
	}
	return feed.ID, false, nil
}

func (s *Syncer) syncWebhook(ctx context.Context, w WebhookSeed) (int64, bool, error) {
	existing, err := s.webhooks.GetWebhookByName(ctx, w.Name)
	if err != nil {
		return 0, false, err
	}

	hook := existing
	if hook == nil {
		hook = &database.Webhook{}
	}
	hook.Name = w.Name
	hook.URL = w.URL
	hook.WorkflowName = w.WorkflowName
	hook.WorkflowDescription = w.WorkflowDescription
	hook.ProcessingType = cmp.Or(database.ProcessingType(w.ProcessingType), hook.ProcessingType, database.ProcessingContentRewrite)
	hook.TimeoutSeconds = cmp.Or(w.TimeoutSeconds, hook.TimeoutSeconds, 30)
	hook.RetryAttempts = w.RetryAttempts
	hook.TestMode = w.TestMode
	hook.Active = enabled(w.Active)

	if existing != nil {
		return hook.ID, false, s.webhooks.UpdateWebhook(ctx, hook)
	}

	hook.AuthToken = w.AuthToken
	if hook.AuthToken == "" {
		if hook.AuthToken, err = webhook.GenerateToken(); err != nil {
			return 0, false, err
		}
	}
	id, err := s.webhooks.CreateWebhook(ctx, hook)
	return id, true, err
}

func (s *Syncer) syncRule(ctx context.Context, r RuleSeed, feedIDs, webhookIDs map[string]int64) (bool, error) {
	conditions, err := toJSON(r.Conditions)
	if err != nil {
		return false, err
	}
	actions, err := toJSON(r.Actions)
	if err != nil {
		return false, err
	}

	var feedID, webhookID *int64
	if id, ok := feedIDs[r.Feed]; ok {
		feedID = &id
	}
	if id, ok := webhookIDs[r.Webhook]; ok {
		webhookID = &id
	}

	if err := rules.ValidateDefinition(conditions, actions, webhookID); err != nil {
		return false, err
	}

	existing, err := s.rules.GetRuleByName(ctx, r.Name)
	if err != nil {
		return false, err
	}

	rule := existing
	if rule == nil {
		rule = &database.Rule{}
	}
	rule.Name = r.Name
	rule.FeedID = feedID
	rule.WebhookID = webhookID
	rule.Priority = cmp.Or(r.Priority, 10)
	rule.Conditions = conditions
	rule.Actions = actions
	rule.Active = enabled(r.Active)

	if existing != nil {
		return false, s.rules.UpdateRule(ctx, rule)
	}
	_, err = s.rules.CreateRule(ctx, rule)
	return true, err
}
