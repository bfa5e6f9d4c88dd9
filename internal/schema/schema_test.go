package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusIndexBody(t *testing.T) {
	t.Parallel()

	idx := StatusIndex("Crawl-AbC")
	require.Equal(t, "crawlstatus-crawl-abc", idx.Name)
	require.True(t, idx.VerifyShards)

	raw, err := idx.Body()
	require.NoError(t, err)
	var body struct {
		Settings struct {
			Index struct {
				Shards   int    `json:"number_of_shards"`
				Replicas int    `json:"number_of_replicas"`
				Refresh  string `json:"refresh_interval"`
			} `json:"index"`
		} `json:"settings"`
		Mappings struct {
			DynamicTemplates []map[string]struct {
				PathMatch string            `json:"path_match"`
				Mapping   map[string]string `json:"mapping"`
			} `json:"dynamic_templates"`
			Properties map[string]map[string]string `json:"properties"`
		} `json:"mappings"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	require.Equal(t, 10, body.Settings.Index.Shards)
	require.Equal(t, 0, body.Settings.Index.Replicas)
	require.Equal(t, "5s", body.Settings.Index.Refresh)
	require.Equal(t, "metadata.*", body.Mappings.DynamicTemplates[0]["metadata"].PathMatch)
	require.Equal(t, "keyword", body.Mappings.DynamicTemplates[0]["metadata"].Mapping["type"])
	require.Equal(t, "date", body.Mappings.Properties["nextFetchDate"]["type"])
	require.Equal(t, "keyword", body.Mappings.Properties["status"]["type"])
	require.Equal(t, "keyword", body.Mappings.Properties["url"]["type"])
}

func TestCrawlRegistryDefaults(t *testing.T) {
	t.Parallel()

	idx := CrawlRegistry("")
	require.Equal(t, DefaultRegistryIndex, idx.Name)
	require.Equal(t, 1, idx.Shards)
	require.Equal(t, "30s", idx.RefreshInterval)
	require.False(t, idx.VerifyShards)

	props := idx.Mappings["properties"].(map[string]any)
	for _, field := range []string{"crawlOptions", "commonKeywords", "keywordGroups", "processedKeywords", "started", "completed"} {
		require.Contains(t, props, field)
	}
}

func TestResultsSchema(t *testing.T) {
	t.Parallel()

	idx := Results("pages")
	require.Equal(t, "pages", idx.Name)
	_, err := idx.Body()
	require.NoError(t, err)
}
