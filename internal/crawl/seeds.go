package crawl

import (
	"context"
	"fmt"
	"strings"
)

// ResolveSeedURLs queries the provider once per processed keyword set and
// unions the results, in order and without duplicates, into c.SeedURLs. No
// keyword set contributes more than SeedURLsPerKeywordGroup URLs, counted
// after the crawl's domain filters are applied.
//
// Provider errors for one set do not stop the others and are returned as a
// *PartialResolutionError. When nothing resolves at all the returned error
// also matches ErrNoSeedURLs and c is left untouched.
func ResolveSeedURLs(ctx context.Context, c *Crawl, p SearchProvider) error {
	if err := requireState("resolve seed urls", c, StateKeywordsProcessed); err != nil {
		return err
	}
	quota := c.CrawlOptions.SeedURLsPerKeywordGroup
	filter := newDomainFilter(c.CrawlOptions.DomainBlacklist, c.CrawlOptions.DomainWhitelist)
	partial := &PartialResolutionError{Stage: "seed resolution"}

	seen := make(map[string]struct{})
	var seeds []string
	for _, pk := range c.ProcessedKeywords {
		if quota <= 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("resolve seed urls: %w", err)
		}
		urls, err := p.Search(ctx, SearchQuery{
			Text:     strings.Join(pk.Keywords, " "),
			Language: pk.Language,
			Limit:    quota,
		})
		if err != nil {
			partial.add(Failure{Language: pk.Language, Keywords: pk.Keywords, Err: err})
			continue
		}
		taken := 0
		for _, u := range urls {
			if taken >= quota {
				break
			}
			u = strings.TrimSpace(u)
			if u == "" || !filter.allow(u) {
				continue
			}
			taken++
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			seeds = append(seeds, u)
		}
	}

	if len(seeds) == 0 {
		if len(partial.Failures) > 0 {
			return fmt.Errorf("%w: %w", ErrNoSeedURLs, partial)
		}
		return ErrNoSeedURLs
	}
	c.SeedURLs = seeds
	return partial.orNil()
}

type domainFilter struct {
	denied  []string
	allowed []string
}

func newDomainFilter(deny, allow []string) domainFilter {
	return domainFilter{denied: normalizeDomains(deny), allowed: normalizeDomains(allow)}
}

func (f domainFilter) allow(rawURL string) bool {
	host := Hostname(rawURL)
	if host == "" {
		return false
	}
	for _, d := range f.denied {
		if matchesDomain(host, d) {
			return false
		}
	}
	if len(f.allowed) == 0 {
		return true
	}
	for _, d := range f.allowed {
		if matchesDomain(host, d) {
			return true
		}
	}
	return false
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

// matchesDomain reports whether host is domain or one of its subdomains.
func matchesDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
