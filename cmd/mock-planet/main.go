// Package main implements a mock Aralia data planet for e2e testing.
// It serves the SSO token endpoint, the galaxy dataset search, dataset
// metadata, filter options, and exploration queries from JSON fixture files.
// This eliminates the need for real planet credentials during pipeline wiring
// tests, making them fast, deterministic, and offline-capable.
//
// Usage:
//
//	mock-planet -fixtures /path/to/fixtures -port 8868
//
// Fixture files are JSON, one per dataset, holding the dataset's catalog
// entry, its column metadata, per-column filter value domains, and the rows
// every exploration of the dataset returns:
//
//	{
//	  "dataset": {"id": "ds-1", "name": "Traffic Accidents", "description": "..."},
//	  "columns": [{"id": "c-city", "displayName": "City", "type": "nominal", "visible": true}],
//	  "virtualVariables": [],
//	  "filterOptions": {"c-city": ["Taipei City", "Keelung City"]},
//	  "rows": [{"x": [["Taipei City"]], "values": [120]}]
//	}
//
// A dataset whose "sourceURL" is empty is served from the mock itself; the
// catalog response fills in this server's own address.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// wireColumn mirrors the planet's column record.
type wireColumn struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Type        string `json:"type"`
	Format      string `json:"format,omitempty"`
	Visible     bool   `json:"visible"`
}

// wireRow mirrors a grouped exploration result row.
type wireRow struct {
	X      [][]any `json:"x"`
	Values []any   `json:"values"`
}

// catalogEntry is the galaxy search record for a dataset.
type catalogEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	SourceURL   string `json:"sourceURL"`
}

// datasetFixture is one fixture file: everything the planet knows about one
// dataset.
type datasetFixture struct {
	Dataset          catalogEntry        `json:"dataset"`
	Columns          []wireColumn        `json:"columns"`
	VirtualVariables []wireColumn        `json:"virtualVariables"`
	FilterOptions    map[string][]string `json:"filterOptions"`
	Rows             []wireRow           `json:"rows"`
}

// capturedExploration stores an exploration request body for test verification.
type capturedExploration struct {
	DatasetID string          `json:"dataset_id"`
	Body      json.RawMessage `json:"body"`
	CallIndex int             `json:"call_index"` // 1-indexed per-dataset call number
	Timestamp int64           `json:"timestamp"`
}

type server struct {
	fixtures map[string]*datasetFixture // dataset ID → fixture
	tokens   atomic.Int64               // tokens issued
	calls    atomic.Int64               // authenticated API calls served

	explorationsMu sync.Mutex
	explorations   map[string][]capturedExploration
}

func newServer(fixtures map[string]*datasetFixture) *server {
	return &server{
		fixtures:     fixtures,
		explorations: make(map[string][]capturedExploration),
	}
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing dataset fixture files")
	port := flag.Int("port", 8868, "port to listen on")
	flag.Parse()

	// Allow env var override
	if envDir := os.Getenv("MOCK_PLANET_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}
	if *fixtureDir == "" {
		*fixtureDir = "/fixtures"
	}

	fixtures, err := loadFixtures(*fixtureDir)
	if err != nil {
		log.Fatalf("Failed to load fixtures from %s: %v", *fixtureDir, err)
	}
	log.Printf("Loaded %d dataset(s) from %s", len(fixtures), *fixtureDir)
	for id, f := range fixtures {
		log.Printf("  dataset: %s (%s, %d column(s), %d row(s))", id, f.Dataset.Name, len(f.Columns), len(f.Rows))
	}

	s := newServer(fixtures)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock planet listening on %s", addr)
	if err := http.ListenAndServe(addr, s.routes()); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /explorations", s.handleExplorations)
	mux.HandleFunc("POST /realms/stellar/protocol/openid-connect/token", s.handleToken)
	mux.HandleFunc("GET /api/galaxy/dataset", s.authenticated(s.handleGalaxySearch))
	mux.HandleFunc("GET /api/dataset/{id}", s.authenticated(s.handleDatasetMetadata))
	mux.HandleFunc("GET /api/dataset/{id}/virtual-variables", s.authenticated(s.handleVirtualVariables))
	mux.HandleFunc("POST /api/exploration/{id}/filter-options", s.authenticated(s.handleFilterOptions))
	mux.HandleFunc("POST /api/exploration/{id}", s.authenticated(s.handleExploration))
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleToken implements the client-credentials grant. Any non-empty
// client ID and secret pair is accepted.
func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	if r.PostFormValue("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	if r.PostFormValue("client_id") == "" || r.PostFormValue("client_secret") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	n := s.tokens.Add(1)
	log.Printf("[token %d] issued for client_id=%s", n, r.PostFormValue("client_id"))
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": fmt.Sprintf("mock-planet-token-%d", n),
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

// authenticated rejects requests without a bearer token, like the planet does.
func (s *server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return
		}
		s.calls.Add(1)
		next(w, r)
	}
}

// handleGalaxySearch filters the catalog by keyword substring against each
// dataset's name and description.
func (s *server) handleGalaxySearch(w http.ResponseWriter, r *http.Request) {
	keyword := strings.ToLower(r.URL.Query().Get("keyword"))

	var hits []catalogEntry
	for _, f := range s.fixtures {
		entry := f.Dataset
		haystack := strings.ToLower(entry.Name + " " + entry.Description)
		if keyword != "" && !strings.Contains(haystack, keyword) {
			continue
		}
		if entry.SourceURL == "" {
			// Address the dataset on this server; the /admin suffix is what
			// real catalog entries carry and clients truncate.
			entry.SourceURL = "http://" + r.Host + "/admin/console"
		}
		hits = append(hits, entry)
	}
	if hits == nil {
		hits = []catalogEntry{}
	}

	log.Printf("galaxy search keyword=%q hits=%d", keyword, len(hits))
	writeEnvelope(w, map[string]any{"list": hits, "total": len(hits)})
}

func (s *server) handleDatasetMetadata(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fixtures[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "dataset not found"})
		return
	}
	writeEnvelope(w, map[string]any{"id": f.Dataset.ID, "name": f.Dataset.Name, "columns": f.Columns})
}

func (s *server) handleVirtualVariables(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fixtures[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "dataset not found"})
		return
	}
	virtuals := f.VirtualVariables
	if virtuals == nil {
		virtuals = []wireColumn{}
	}
	writeEnvelope(w, virtuals)
}

// handleFilterOptions returns the distinct value domain of the single column
// named in the request body, one value per row.
func (s *server) handleFilterOptions(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fixtures[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "dataset not found"})
		return
	}

	var body struct {
		X []struct {
			ColumnID string `json:"columnID"`
		} `json:"x"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.X) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "exactly one x field required"})
		return
	}

	values := f.FilterOptions[body.X[0].ColumnID]
	rows := make([]wireRow, 0, len(values))
	for _, v := range values {
		rows = append(rows, wireRow{X: [][]any{{v}}})
	}

	log.Printf("filter options dataset=%s column=%s values=%d", r.PathValue("id"), body.X[0].ColumnID, len(rows))
	writeEnvelope(w, map[string]any{"list": rows})
}

func (s *server) handleExploration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f, ok := s.fixtures[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "dataset not found"})
		return
	}

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	callIndex := s.captureExploration(id, body)

	rows := f.Rows
	if rows == nil {
		rows = []wireRow{}
	}
	log.Printf("exploration dataset=%s call=%d rows=%d", id, callIndex, len(rows))
	writeEnvelope(w, map[string]any{"list": rows})
}

// captureExploration stores a request for later retrieval via /explorations.
func (s *server) captureExploration(id string, body json.RawMessage) int {
	s.explorationsMu.Lock()
	defer s.explorationsMu.Unlock()
	index := len(s.explorations[id]) + 1
	s.explorations[id] = append(s.explorations[id], capturedExploration{
		DatasetID: id,
		Body:      body,
		CallIndex: index,
		Timestamp: time.Now().UnixMilli(),
	})
	return index
}

// handleStats returns call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.explorationsMu.Lock()
	explorations := 0
	for _, reqs := range s.explorations {
		explorations += len(reqs)
	}
	s.explorationsMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"tokens_issued": s.tokens.Load(),
		"api_calls":     s.calls.Load(),
		"explorations":  explorations,
	})
}

// handleExplorations returns captured exploration bodies for test assertions.
// Query param "dataset" filters by dataset ID.
func (s *server) handleExplorations(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("dataset")

	s.explorationsMu.Lock()
	result := make(map[string][]capturedExploration)
	for id, reqs := range s.explorations {
		if filter != "" && id != filter {
			continue
		}
		result[id] = reqs
	}
	s.explorationsMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"explorations_by_dataset": result})
}

// writeEnvelope wraps a payload in the planet's {"data": ...} envelope.
func writeEnvelope(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, map[string]any{"data": payload})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// loadFixtures reads JSON files from dir and returns a map of dataset
// ID → fixture. The file name (without extension) is the fallback ID when
// the fixture omits one.
func loadFixtures(dir string) (map[string]*datasetFixture, error) {
	fixtures := make(map[string]*datasetFixture)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		var f datasetFixture
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("invalid fixture %s: %w", path, err)
		}
		if f.Dataset.ID == "" {
			f.Dataset.ID = strings.TrimSuffix(info.Name(), ".json")
		}
		fixtures[f.Dataset.ID] = &f
		return nil
	})

	if err != nil {
		return nil, err
	}
	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}

	return fixtures, nil
}
