// Package seed loads feeds, webhooks and rules from YAML files and syncs
// them into the database.
package seed

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/rss-planner/app/database"
	"github.com/lysyi3m/rss-planner/app/rules"
)

type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load merges every *.yml and *.yaml file of the seed directory in name
// order. A missing directory yields an empty seed.
func (l *Loader) Load() (*Seed, error) {
	merged := &Seed{}

	if _, err := os.Stat(l.dir); errors.Is(err, fs.ErrNotExist) {
		return merged, nil
	}

	var files []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := filepath.Glob(filepath.Join(l.dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to find seed files: %w", err)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)

	for _, file := range files {
		s, err := parseFile(file)
		if err != nil {
			return nil, fmt.Errorf("error loading %s: %w", file, err)
		}
		merged.Feeds = append(merged.Feeds, s.Feeds...)
		merged.Webhooks = append(merged.Webhooks, s.Webhooks...)
		merged.Rules = append(merged.Rules, s.Rules...)

		slog.Debug("Seed file loaded", "file", filepath.Base(file),
			"feeds", len(s.Feeds), "webhooks", len(s.Webhooks), "rules", len(s.Rules))
	}

	if err := validate(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func parseFile(file string) (*Seed, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &s, nil
}

func validate(s *Seed) error {
	feedNames := make(map[string]bool, len(s.Feeds))
	for i, f := range s.Feeds {
		if f.Name == "" || f.URL == "" {
			return fmt.Errorf("feed at index %d: name and url are required", i)
		}
		if f.PollingInterval < 0 {
			return fmt.Errorf("feed %q: polling_interval must be non-negative", f.Name)
		}
		if feedNames[f.Name] {
			return fmt.Errorf("feed %q is defined twice", f.Name)
		}
		feedNames[f.Name] = true
	}

	webhookNames := make(map[string]bool, len(s.Webhooks))
	for i, w := range s.Webhooks {
		if w.Name == "" || w.URL == "" {
			return fmt.Errorf("webhook at index %d: name and url are required", i)
		}
		if w.ProcessingType != "" && !database.ProcessingType(w.ProcessingType).Valid() {
			return fmt.Errorf("webhook %q: unknown processing_type %q", w.Name, w.ProcessingType)
		}
		if webhookNames[w.Name] {
			return fmt.Errorf("webhook %q is defined twice", w.Name)
		}
		webhookNames[w.Name] = true
	}

	ruleNames := make(map[string]bool, len(s.Rules))
	for i, r := range s.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule at index %d: name is required", i)
		}
		if ruleNames[r.Name] {
			return fmt.Errorf("rule %q is defined twice", r.Name)
		}
		ruleNames[r.Name] = true

		if r.Feed != "" && !feedNames[r.Feed] {
			return fmt.Errorf("rule %q: unknown feed %q", r.Name, r.Feed)
		}
		if r.Webhook != "" && !webhookNames[r.Webhook] {
			return fmt.Errorf("rule %q: unknown webhook %q", r.Name, r.Webhook)
		}

		conditions, err := toJSON(r.Conditions)
		if err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if _, err := rules.DecodeConditions(conditions); err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
	}
	return nil
}

func toJSON(v []map[string]any) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
