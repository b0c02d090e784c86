package feed

import (
	"context"
	"fmt"

	"github.com/lysyi3m/rss-planner/app/database"
)

// ContentLookup is the subset of the content store used for deduplication.
type ContentLookup interface {
	ContentRecordExistsByGUID(ctx context.Context, guid string) (bool, error)
	ContentRecordExistsByURL(ctx context.Context, url string) (bool, error)
}

type Deduplicator struct {
	store     ContentLookup
	hashStore database.HashLookup
}

// NewDeduplicator matches items by GUID, then by link. With hashFallback set
// and a store that supports it, items carrying neither are matched on their
// content hash.
func NewDeduplicator(store ContentLookup, hashFallback bool) *Deduplicator {
	d := &Deduplicator{store: store}
	if hashFallback {
		if hl, ok := store.(database.HashLookup); ok {
			d.hashStore = hl
		}
	}
	return d
}

func (d *Deduplicator) IsDuplicate(ctx context.Context, item Item) (bool, error) {
	if item.GUID != "" {
		found, err := d.store.ContentRecordExistsByGUID(ctx, item.GUID)
		if err != nil {
			return false, fmt.Errorf("failed to check guid: %w", err)
		}
		if found {
			return true, nil
		}
	}

	if item.Link != "" {
		found, err := d.store.ContentRecordExistsByURL(ctx, item.Link)
		if err != nil {
			return false, fmt.Errorf("failed to check link: %w", err)
		}
		if found {
			return true, nil
		}
	}

	if item.GUID == "" && item.Link == "" && d.hashStore != nil && item.ContentHash != "" {
		found, err := d.hashStore.ContentRecordExistsByHash(ctx, item.ContentHash)
		if err != nil {
			return false, fmt.Errorf("failed to check content hash: %w", err)
		}
		return found, nil
	}

	return false, nil
}
