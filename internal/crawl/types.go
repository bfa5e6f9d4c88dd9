// Package crawl defines the crawl record, the keyword and seed URL pipeline,
// and the lifecycle that bridges crawls to the execution cluster's status
// indices.
package crawl

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// WorkItemStatus is the status of a URL inside a crawl's status index.
type WorkItemStatus string

// StatusDiscovered is the only status this service writes. Later transitions
// are owned by the execution cluster.
const StatusDiscovered WorkItemStatus = "DISCOVERED"

// Metadata keys understood by the execution cluster.
const (
	MetaCrawlID   = "n52.crawl.id"
	MetaLanguages = "n52.crawl.languages"
	MetaHostname  = "hostname"
	MetaMaxDepth  = "max.depth"
)

// Crawl is one crawl request together with its derived artifacts and
// lifecycle timestamps.
type Crawl struct {
	ID                string              `json:"id,omitempty"`
	Name              string              `json:"name" validate:"required"`
	Languages         []string            `json:"languages" validate:"required,min=1,dive,required"`
	CrawlOptions      Options             `json:"crawlOptions"`
	CommonKeywords    KeywordGroup        `json:"commonKeywords"`
	KeywordGroups     []KeywordGroup      `json:"keywordGroups" validate:"dive"`
	ProcessedKeywords []ProcessedKeywords `json:"processedKeywords"`
	SeedURLs          []string            `json:"seedUrls"`
	Started           *time.Time          `json:"started"`
	Completed         *time.Time          `json:"completed"`
}

// Options holds the crawl's execution limits.
type Options struct {
	Recursion               int                  `json:"recursion" validate:"gte=0"`
	SeedURLsPerKeywordGroup int                  `json:"seedUrlsPerKeywordGroup" validate:"gte=0"`
	DomainBlacklist         []string             `json:"domainBlacklist"`
	DomainWhitelist         []string             `json:"domainWhitelist"`
	TerminationCondition    TerminationCondition `json:"terminationCondition"`
}

// TerminationCondition bounds a running crawl. Nil fields are unbounded.
type TerminationCondition struct {
	ResultCount *int `json:"resultCount,omitempty" validate:"omitempty,gte=0"`
	// Duration is in seconds.
	Duration *int `json:"duration,omitempty" validate:"omitempty,gte=0"`
}

// KeywordGroup is a set of keywords searched together.
type KeywordGroup struct {
	Keywords  []string `json:"keywords" validate:"dive,required"`
	Translate bool     `json:"translate"`
}

// ProcessedKeywords is the final keyword set for one (group, language) pair.
type ProcessedKeywords struct {
	Keywords []string `json:"keywords"`
	Language string   `json:"language"`
}

// WorkItem is one document in a crawl's status index.
type WorkItem struct {
	URL           string              `json:"url"`
	Status        WorkItemStatus      `json:"status"`
	NextFetchDate time.Time           `json:"nextFetchDate"`
	Metadata      map[string][]string `json:"metadata"`
}

// StatusIndexName returns the status index owned by the crawl with the given id.
func StatusIndexName(id string) string {
	return "crawlstatus-" + strings.ToLower(id)
}

// NewWorkItem builds the DISCOVERED work item for a seed URL.
func NewWorkItem(c *Crawl, rawURL string, now time.Time) WorkItem {
	return WorkItem{
		URL:           rawURL,
		Status:        StatusDiscovered,
		NextFetchDate: now,
		Metadata: map[string][]string{
			MetaCrawlID:   {c.ID},
			MetaLanguages: append([]string(nil), c.Languages...),
			MetaHostname:  {Hostname(rawURL)},
			MetaMaxDepth:  {strconv.Itoa(c.CrawlOptions.Recursion)},
		},
	}
}

// Hostname returns the lowercase host of rawURL, or "" when it cannot be parsed.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Clone returns a deep copy of the crawl.
func (c *Crawl) Clone() *Crawl {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Languages = cloneStrings(c.Languages)
	cp.CrawlOptions.DomainBlacklist = cloneStrings(c.CrawlOptions.DomainBlacklist)
	cp.CrawlOptions.DomainWhitelist = cloneStrings(c.CrawlOptions.DomainWhitelist)
	cp.CrawlOptions.TerminationCondition.ResultCount = cloneInt(c.CrawlOptions.TerminationCondition.ResultCount)
	cp.CrawlOptions.TerminationCondition.Duration = cloneInt(c.CrawlOptions.TerminationCondition.Duration)
	cp.CommonKeywords.Keywords = cloneStrings(c.CommonKeywords.Keywords)
	if c.KeywordGroups != nil {
		cp.KeywordGroups = make([]KeywordGroup, len(c.KeywordGroups))
		for i, g := range c.KeywordGroups {
			cp.KeywordGroups[i] = KeywordGroup{Keywords: cloneStrings(g.Keywords), Translate: g.Translate}
		}
	}
	if c.ProcessedKeywords != nil {
		cp.ProcessedKeywords = make([]ProcessedKeywords, len(c.ProcessedKeywords))
		for i, p := range c.ProcessedKeywords {
			cp.ProcessedKeywords[i] = ProcessedKeywords{Keywords: cloneStrings(p.Keywords), Language: p.Language}
		}
	}
	cp.SeedURLs = cloneStrings(c.SeedURLs)
	cp.Started = cloneTime(c.Started)
	cp.Completed = cloneTime(c.Completed)
	return &cp
}

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	return append([]string(nil), src...)
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	ts := *t
	return &ts
}
