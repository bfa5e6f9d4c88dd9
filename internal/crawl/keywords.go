package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoKeywords signals a crawl without any keyword to search for.
var ErrNoKeywords = errors.New("crawl has no keywords")

// ProcessKeywords fills c.ProcessedKeywords with one entry per keyword group
// and language. Common keywords are merged into every group. Keywords of a
// set marked for translation are translated from sourceLang into each target
// language.
//
// A language whose translation fails keeps its untranslated keywords; the
// failure is returned as a *PartialResolutionError while c is still updated.
// Any other error leaves c untouched.
func ProcessKeywords(ctx context.Context, c *Crawl, tr Translator, sourceLang string) error {
	if err := requireState("process keywords", c, StateCreated); err != nil {
		return err
	}
	groups := c.KeywordGroups
	if len(groups) == 0 {
		if len(c.CommonKeywords.Keywords) == 0 {
			return ErrNoKeywords
		}
		groups = []KeywordGroup{{}}
	}

	partial := &PartialResolutionError{Stage: "keyword translation"}
	failedLang := make(map[string]bool)
	var out []ProcessedKeywords
	for _, group := range groups {
		for _, lang := range c.Languages {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("process keywords: %w", err)
			}
			translate := tr != nil && lang != sourceLang && !failedLang[lang]
			own, err := maybeTranslate(ctx, tr, group, translate, sourceLang, lang)
			if err == nil {
				var common []string
				common, err = maybeTranslate(ctx, tr, c.CommonKeywords, translate, sourceLang, lang)
				own = append(own, common...)
			}
			if err != nil {
				failedLang[lang] = true
				partial.add(Failure{Language: lang, Keywords: group.Keywords, Err: err})
				own = append(cloneStrings(group.Keywords), c.CommonKeywords.Keywords...)
			}
			set := dedupe(own)
			if len(set) == 0 {
				continue
			}
			out = append(out, ProcessedKeywords{Keywords: set, Language: lang})
		}
	}
	if len(out) == 0 {
		return ErrNoKeywords
	}
	c.ProcessedKeywords = out
	return partial.orNil()
}

func maybeTranslate(
	ctx context.Context,
	tr Translator,
	group KeywordGroup,
	translate bool,
	source, target string,
) ([]string, error) {
	if !translate || !group.Translate {
		return cloneStrings(group.Keywords), nil
	}
	out := make([]string, 0, len(group.Keywords))
	for _, kw := range group.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		translated, err := tr.Translate(ctx, kw, source, target)
		if err != nil {
			return nil, fmt.Errorf("translate %q to %s: %w", kw, target, err)
		}
		out = append(out, translated)
	}
	return out, nil
}

// dedupe trims keywords, drops empties and keeps the first occurrence.
func dedupe(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

// IsPartial reports whether err only describes skipped units of work.
func IsPartial(err error) bool {
	var partial *PartialResolutionError
	return errors.As(err, &partial) && !errors.Is(err, ErrNoSeedURLs)
}
