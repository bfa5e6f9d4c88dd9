package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names a crawl lifecycle transition.
type Stage string

// Lifecycle stages emitted by the crawl service.
const (
	StageCreated           Stage = "CRAWL_CREATED"
	StageKeywordsProcessed Stage = "CRAWL_KEYWORDS_PROCESSED"
	StageSeeded            Stage = "CRAWL_SEEDED"
	StageStarted           Stage = "CRAWL_STARTED"
	StageStopped           Stage = "CRAWL_STOPPED"
	StageDeleted           Stage = "CRAWL_DELETED"
	StageFailed            Stage = "CRAWL_FAILED"
)

// Event records one lifecycle transition of a crawl.
type Event struct {
	// ID uniquely identifies the event so sinks can deduplicate redeliveries.
	ID uuid.UUID `json:"id"`
	// CrawlID is the store-assigned crawl identifier.
	CrawlID string `json:"crawl_id"`
	// TS is the UTC time the transition happened.
	TS time.Time `json:"ts"`
	// Stage is the transition.
	Stage Stage `json:"stage"`
	// Count carries the stage's cardinality: keyword sets, seed URLs or
	// status-index documents.
	Count int `json:"count,omitempty"`
	// Note holds low-volume context such as an error message.
	Note string `json:"note,omitempty"`
}

// New builds an event with a fresh ID.
func New(crawlID string, stage Stage, ts time.Time) Event {
	return Event{ID: uuid.New(), CrawlID: crawlID, Stage: stage, TS: ts.UTC()}
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CrawlID == "" && e.Stage != StageFailed {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCreated, StageKeywordsProcessed, StageSeeded, StageStarted, StageStopped, StageDeleted, StageFailed:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Count < 0 {
		return errors.New("count must be >= 0")
	}
	return nil
}

// Attributes returns the message attributes used when the event is
// published to a broker.
func (e Event) Attributes() map[string]string {
	return map[string]string{"crawl_id": e.CrawlID, "stage": string(e.Stage)}
}
