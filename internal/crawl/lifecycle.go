package crawl

import (
	"context"
	"fmt"
)

// StartCrawling hands the seed URLs of a SEEDED crawl to the execution
// cluster by loading them into the crawl's status index, then records the
// start time. A crawl that is already crawling is rejected rather than loaded
// twice.
func StartCrawling(ctx context.Context, store Store, clock Clock, c *Crawl) error {
	if err := requireState("start crawling", c, StateSeeded); err != nil {
		return err
	}
	if c.ID == "" {
		return fmt.Errorf("start crawling: %w", ErrMissingID)
	}
	if err := store.AddToStatusIndex(ctx, c, c.SeedURLs); err != nil {
		return fmt.Errorf("start crawling %s: %w", c.ID, err)
	}
	now := clock.Now()
	c.Started = &now
	if _, err := store.SaveCrawl(ctx, c); err != nil {
		return fmt.Errorf("start crawling %s: %w", c.ID, err)
	}
	return nil
}

// StopCrawling removes the work queue of a crawling crawl and records the
// completion time. It reports false without side effects for crawls in any
// other state.
func StopCrawling(ctx context.Context, store Store, clock Clock, c *Crawl) (bool, error) {
	if StateOf(c) != StateCrawling {
		return false, nil
	}
	if err := store.ClearStatusIndex(ctx, c); err != nil {
		return false, fmt.Errorf("stop crawling %s: %w", c.ID, err)
	}
	now := clock.Now()
	c.Completed = &now
	if _, err := store.SaveCrawl(ctx, c); err != nil {
		return false, fmt.Errorf("stop crawling %s: %w", c.ID, err)
	}
	return true, nil
}

// Delete tears down the crawl's status index, whatever its state, and removes
// the registry entry. c.ID is cleared on success.
func Delete(ctx context.Context, store Store, c *Crawl) error {
	if c.ID == "" {
		return nil
	}
	id := c.ID
	if err := store.ClearStatusIndex(ctx, c); err != nil {
		return fmt.Errorf("delete crawl %s: %w", id, err)
	}
	if _, err := store.DeleteCrawl(ctx, c); err != nil {
		return fmt.Errorf("delete crawl %s: %w", id, err)
	}
	return nil
}
