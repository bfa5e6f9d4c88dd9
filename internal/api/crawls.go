package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
)

const maxCrawlBody = 1 << 20

func (s *Server) createCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawl.Crawl
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCrawlBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate.StructCtx(r.Context(), &req); err != nil {
		s.fail(w, r, err)
		return
	}
	created, err := s.crawls.Create(r.Context(), &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listCrawls(w http.ResponseWriter, r *http.Request) {
	crawls, err := s.crawls.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if crawls == nil {
		crawls = []*crawl.Crawl{}
	}
	writeJSON(w, http.StatusOK, crawls)
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	c, err := s.crawls.Get(r.Context(), chi.URLParam(r, "crawlId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) stopCrawl(w http.ResponseWriter, r *http.Request) {
	c, err := s.crawls.Stop(r.Context(), chi.URLParam(r, "crawlId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteCrawl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "crawlId")
	if err := s.crawls.Delete(r.Context(), id); err != nil {
		s.fail(w, r, fmt.Errorf("delete crawl %s: %w", id, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const defaultStatusItems = 100

func (s *Server) crawlStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusNotImplemented, "status index reads are not supported by this store")
		return
	}
	limit, err := intParam(r.URL.Query(), "size")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if limit == 0 {
		limit = defaultStatusItems
	}
	id := chi.URLParam(r, "crawlId")
	if _, err := s.crawls.Get(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	items, err := s.status.StatusItems(r.Context(), id, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
