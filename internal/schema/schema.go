// Package schema declares the Elasticsearch indices owned by the control
// plane: the crawl registry, the per-crawl status indices read by the
// execution cluster, and the results index they write back into.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
)

// StatusIndexShards is the shard count of every status index. The execution
// cluster partitions its spouts by shard, so this value is a contract.
const StatusIndexShards = 10

// DefaultRegistryIndex is the registry index name used when none is configured.
const DefaultRegistryIndex = "crawls"

// DefaultResultsIndex is the results index name used when none is configured.
const DefaultResultsIndex = "results"

// Index is a declarative index definition.
type Index struct {
	Name            string
	Shards          int
	Replicas        int
	RefreshInterval string
	Mappings        map[string]any
	// VerifyShards makes EnsureIndex reject an existing index whose shard
	// count differs from Shards.
	VerifyShards bool
}

// Body renders the create-index request body.
func (i Index) Body() ([]byte, error) {
	body := map[string]any{
		"settings": map[string]any{
			"index": map[string]any{
				"number_of_shards":   i.Shards,
				"number_of_replicas": i.Replicas,
				"refresh_interval":   i.RefreshInterval,
			},
		},
		"mappings": i.Mappings,
	}
	out, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal schema %s: %w", i.Name, err)
	}
	return out, nil
}

// CrawlRegistry is the shared index holding one document per crawl.
func CrawlRegistry(name string) Index {
	if name == "" {
		name = DefaultRegistryIndex
	}
	keywordGroup := map[string]any{
		"properties": map[string]any{
			"keywords":  map[string]any{"type": "keyword"},
			"translate": map[string]any{"type": "boolean"},
		},
	}
	return Index{
		Name:            name,
		Shards:          1,
		Replicas:        0,
		RefreshInterval: "30s",
		Mappings: map[string]any{
			"properties": map[string]any{
				"id":        map[string]any{"type": "keyword"},
				"name":      map[string]any{"type": "keyword"},
				"languages": map[string]any{"type": "keyword"},
				"crawlOptions": map[string]any{
					"properties": map[string]any{
						"recursion":               map[string]any{"type": "integer"},
						"seedUrlsPerKeywordGroup": map[string]any{"type": "integer"},
						"domainBlacklist":         map[string]any{"type": "keyword"},
						"domainWhitelist":         map[string]any{"type": "keyword"},
						"terminationCondition": map[string]any{
							"properties": map[string]any{
								"resultCount": map[string]any{"type": "integer"},
								"duration":    map[string]any{"type": "integer"},
							},
						},
					},
				},
				"commonKeywords": keywordGroup,
				"keywordGroups":  keywordGroup,
				"processedKeywords": map[string]any{
					"properties": map[string]any{
						"keywords": map[string]any{"type": "keyword"},
						"language": map[string]any{"type": "keyword"},
					},
				},
				"seedUrls":  map[string]any{"type": "keyword"},
				"started":   map[string]any{"type": "date"},
				"completed": map[string]any{"type": "date"},
			},
		},
	}
}

// StatusIndex is the work queue of one crawl.
func StatusIndex(crawlID string) Index {
	return Index{
		Name:            crawl.StatusIndexName(crawlID),
		Shards:          StatusIndexShards,
		Replicas:        0,
		RefreshInterval: "5s",
		VerifyShards:    true,
		Mappings: map[string]any{
			"dynamic_templates": []any{
				map[string]any{
					"metadata": map[string]any{
						"path_match":         "metadata.*",
						"match_mapping_type": "string",
						"mapping":            map[string]any{"type": "keyword"},
					},
				},
			},
			"_source": map[string]any{"enabled": true},
			"properties": map[string]any{
				"nextFetchDate": map[string]any{"type": "date", "format": "date_optional_time"},
				"status":        map[string]any{"type": "keyword"},
				"url":           map[string]any{"type": "keyword"},
			},
		},
	}
}

// Results is the index the execution cluster writes fetched pages into.
func Results(name string) Index {
	if name == "" {
		name = DefaultResultsIndex
	}
	return Index{
		Name:            name,
		Shards:          1,
		Replicas:        0,
		RefreshInterval: "1s",
		Mappings: map[string]any{
			"properties": map[string]any{
				"crawlId":   map[string]any{"type": "keyword"},
				"url":       map[string]any{"type": "keyword"},
				"title":     map[string]any{"type": "text"},
				"content":   map[string]any{"type": "text"},
				"language":  map[string]any{"type": "keyword"},
				"label":     map[string]any{"type": "keyword"},
				"fetchedAt": map[string]any{"type": "date"},
			},
		},
	}
}
