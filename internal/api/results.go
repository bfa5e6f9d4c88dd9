package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/crawl-control-plane/internal/results"
)

// resultQuery reads the shared result filters. Crawl ids may be sent as
// repeated crawls[] or crawls parameters, each possibly comma-separated.
func resultQuery(values url.Values) results.Query {
	var ids []string
	for _, key := range []string{"crawls[]", "crawls"} {
		for _, raw := range values[key] {
			for _, id := range strings.Split(raw, ",") {
				if id = strings.TrimSpace(id); id != "" {
					ids = append(ids, id)
				}
			}
		}
	}
	return results.Query{CrawlIDs: ids, Text: strings.TrimSpace(values.Get("query"))}
}

func intParam(values url.Values, keys ...string) (int, error) {
	for _, key := range keys {
		raw := values.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
		}
		return n, nil
	}
	return 0, nil
}

func boolParam(values url.Values, key string) (bool, error) {
	raw := values.Get(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", errBadRequest, key)
	}
	return b, nil
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	format, err := results.ParseFormat(values.Get("format"))
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	size, err := intParam(values, "size", "maxResults")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := intParam(values, "page")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	onlyLangs, err := boolParam(values, "onlyCrawlLanguages")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	download, err := boolParam(values, "download")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.results.Search(r.Context(), resultQuery(values), onlyLangs, page, size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if res.Items == nil {
		res.Items = []results.Document{}
	}
	if download {
		name := "results-" + time.Now().UTC().Format("20060102-150405") + format.Extension()
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	if format == results.FormatJSON && !download {
		writeJSON(w, http.StatusOK, res)
		return
	}
	var buf bytes.Buffer
	if err := results.Export(&buf, format, res.Items); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("X-Total-Count", strconv.FormatInt(res.Total, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) countResults(w http.ResponseWriter, r *http.Request) {
	counts, err := s.results.Counts(r.Context(), resultQuery(r.URL.Query()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) deleteResults(w http.ResponseWriter, r *http.Request) {
	n, err := s.results.Delete(r.Context(), resultQuery(r.URL.Query()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

type classifyRequest struct {
	URLs  []string `json:"urls" validate:"required,min=1,dive,required"`
	Label string   `json:"label" validate:"required"`
}

func (s *Server) classifyResults(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCrawlBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate.StructCtx(r.Context(), &req); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.results.Classify(r.Context(), req.URLs, req.Label)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
