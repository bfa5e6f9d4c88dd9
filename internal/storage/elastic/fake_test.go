package elastic

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeES emulates the handful of Elasticsearch endpoints the store uses.
type fakeES struct {
	mu       sync.Mutex
	indices  map[string]*fakeIndex
	requests []string
	nextID   int

	// headDelay stalls index existence checks.
	headDelay time.Duration
	// raceOnCreate answers index creation with resource_already_exists.
	raceOnCreate bool
	// rejectURLs makes the bulk endpoint reject these document ids.
	rejectURLs map[string]string
	// onResults answers _search, _delete_by_query and _update_by_query on
	// indices that are not emulated.
	onResults func(path string, body []byte) (int, any)
}

type fakeIndex struct {
	shards int
	order  []string
	docs   map[string]json.RawMessage
}

func newFakeES(t *testing.T) (*fakeES, *Store) {
	t.Helper()
	f := &fakeES{indices: make(map[string]*fakeIndex)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	store, err := New(Config{Addresses: []string{srv.URL}}, zap.NewNop())
	require.NoError(t, err)
	return f, store
}

func (f *fakeES) addIndex(name string, shards int) *fakeIndex {
	idx := &fakeIndex{shards: shards, docs: make(map[string]json.RawMessage)}
	f.indices[name] = idx
	return idx
}

// count returns how often the exact "METHOD /path" request was served.
func (f *fakeES) count(request string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r == request {
			n++
		}
	}
	return n
}

func (f *fakeES) served() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeES) index(name string) (*fakeIndex, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx, ok := f.indices[name]
	return idx, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func esError(status int, typ, reason string) map[string]any {
	return map[string]any{"status": status, "error": map[string]any{"type": typ, "reason": reason}}
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	delay := f.headDelay
	f.mu.Unlock()
	if r.Method == http.MethodHead && delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if parts[0] == "" {
		writeJSON(w, http.StatusOK, map[string]any{"tagline": "You Know, for Search"})
		return
	}
	name := parts[0]
	idx, exists := f.indices[name]

	switch {
	case len(parts) == 1:
		f.serveIndex(w, r, name, idx, exists, body)
	case parts[1] == "_settings":
		if !exists {
			writeJSON(w, http.StatusNotFound, esError(404, "index_not_found_exception", "no such index"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{name: map[string]any{
			"settings": map[string]any{"index": map[string]any{"number_of_shards": strconv.Itoa(idx.shards)}},
		}})
	case parts[1] == "_doc":
		f.serveDoc(w, r, name, idx, exists, parts, body)
	case parts[1] == "_bulk":
		f.serveBulk(w, name, body)
	case parts[1] == "_search" && exists:
		hits := make([]any, 0, len(idx.order))
		for _, id := range idx.order {
			hits = append(hits, map[string]any{"_id": id, "_source": idx.docs[id]})
		}
		writeJSON(w, http.StatusOK, map[string]any{"hits": map[string]any{"hits": hits}})
	default:
		if f.onResults != nil {
			status, resp := f.onResults(r.URL.Path, body)
			writeJSON(w, status, resp)
			return
		}
		writeJSON(w, http.StatusNotFound, esError(404, "index_not_found_exception", "no such index"))
	}
}

func (f *fakeES) serveIndex(w http.ResponseWriter, r *http.Request, name string, _ *fakeIndex, exists bool, body []byte) {
	switch r.Method {
	case http.MethodHead:
		if exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case http.MethodPut:
		if exists || f.raceOnCreate {
			if !exists {
				f.addIndex(name, parseShards(body))
			}
			writeJSON(w, http.StatusBadRequest, esError(400, "resource_already_exists_exception", "index already exists"))
			return
		}
		f.addIndex(name, parseShards(body))
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "index": name})
	case http.MethodDelete:
		if !exists {
			writeJSON(w, http.StatusNotFound, esError(404, "index_not_found_exception", "no such index"))
			return
		}
		delete(f.indices, name)
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, nil)
	}
}

func parseShards(body []byte) int {
	var def struct {
		Settings struct {
			Index struct {
				Shards int `json:"number_of_shards"`
			} `json:"index"`
		} `json:"settings"`
	}
	_ = json.Unmarshal(body, &def)
	if def.Settings.Index.Shards == 0 {
		return 1
	}
	return def.Settings.Index.Shards
}

func (f *fakeES) serveDoc(w http.ResponseWriter, r *http.Request, name string, idx *fakeIndex, exists bool, parts []string, body []byte) {
	id := ""
	if len(parts) > 2 {
		id = parts[2]
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut:
		if !exists {
			idx = f.addIndex(name, 1)
		}
		if id == "" {
			f.nextID++
			id = fmt.Sprintf("gen-%d", f.nextID)
		}
		result := "updated"
		if _, ok := idx.docs[id]; !ok {
			idx.order = append(idx.order, id)
			result = "created"
		}
		idx.docs[id] = json.RawMessage(body)
		writeJSON(w, http.StatusCreated, map[string]any{"_id": id, "result": result})
	case http.MethodGet:
		if !exists {
			writeJSON(w, http.StatusNotFound, esError(404, "index_not_found_exception", "no such index"))
			return
		}
		doc, ok := idx.docs[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"_id": id, "found": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"_id": id, "found": true, "_source": doc})
	case http.MethodDelete:
		if !exists {
			writeJSON(w, http.StatusNotFound, esError(404, "index_not_found_exception", "no such index"))
			return
		}
		if _, ok := idx.docs[id]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"_id": id, "result": "not_found"})
			return
		}
		delete(idx.docs, id)
		for i, o := range idx.order {
			if o == id {
				idx.order = append(idx.order[:i], idx.order[i+1:]...)
				break
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"_id": id, "result": "deleted"})
	}
}

func (f *fakeES) serveBulk(w http.ResponseWriter, name string, body []byte) {
	idx, ok := f.indices[name]
	if !ok {
		idx = f.addIndex(name, 1)
	}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	var items []any
	hasErrors := false
	for scanner.Scan() {
		var action struct {
			Index struct {
				ID string `json:"_id"`
			} `json:"index"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &action); err != nil {
			writeJSON(w, http.StatusBadRequest, esError(400, "parse_exception", err.Error()))
			return
		}
		if !scanner.Scan() {
			writeJSON(w, http.StatusBadRequest, esError(400, "parse_exception", "missing source"))
			return
		}
		id := action.Index.ID
		if reason, reject := f.rejectURLs[id]; reject {
			hasErrors = true
			items = append(items, map[string]any{"index": map[string]any{
				"_id": id, "status": 400,
				"error": map[string]any{"type": "mapper_parsing_exception", "reason": reason},
			}})
			continue
		}
		if _, ok := idx.docs[id]; !ok {
			idx.order = append(idx.order, id)
		}
		idx.docs[id] = append(json.RawMessage(nil), scanner.Bytes()...)
		items = append(items, map[string]any{"index": map[string]any{"_id": id, "status": 201}})
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": hasErrors, "items": items})
}
