// Package testutils provides shared test infrastructure: a fake GitLab
// server for unit tests and MinIO containers for integration tests.
package testutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Request kinds counted by FakeGitLab.
const (
	KindList     = "list"
	KindTrigger  = "trigger"
	KindStatus   = "status"
	KindDownload = "download"
)

// GenerateTestData generates deterministic test data of the given size.
func GenerateTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

// FakeProject is a project served by FakeGitLab.
type FakeProject struct {
	ID             int64
	Name           string
	Namespace      string
	LastActivityAt string

	// Archive is served by the download endpoint.
	Archive []byte

	// Statuses are returned by successive status polls. The last entry
	// repeats. Default: "finished".
	Statuses []string
}

// FakeGitLab is an httptest server speaking the subset of the GitLab API
// used by labexport.
type FakeGitLab struct {
	Server *httptest.Server
	Token  string

	mu             sync.Mutex
	projects       map[int64]*FakeProject
	order          []int64
	counts         map[string]int
	polls          map[int64]int
	triggerStatus  int
	rateLimited    int
	downloadStatus int
}

// StartFakeGitLab starts a fake GitLab server that is closed with the test.
func StartFakeGitLab(t *testing.T, projects ...FakeProject) *FakeGitLab {
	t.Helper()

	g := &FakeGitLab{
		Token:         "glpat-test",
		projects:      make(map[int64]*FakeProject),
		counts:        make(map[string]int),
		polls:         make(map[int64]int),
		triggerStatus: http.StatusAccepted,
	}
	for _, p := range projects {
		g.AddProject(p)
	}

	g.Server = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.Server.Close)
	return g
}

// URL returns the base URL of the server.
func (g *FakeGitLab) URL() string { return g.Server.URL }

// AddProject adds or replaces a project.
func (g *FakeGitLab) AddProject(p FakeProject) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.projects[p.ID]; !ok {
		g.order = append(g.order, p.ID)
	}
	g.projects[p.ID] = &p
}

// SetTriggerStatus sets the status code of the trigger endpoint.
// Default: 202.
func (g *FakeGitLab) SetTriggerStatus(code int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.triggerStatus = code
}

// SetRateLimited makes the next n download requests fail with 429.
func (g *FakeGitLab) SetRateLimited(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rateLimited = n
}

// SetDownloadStatus makes every download request fail with code. Zero
// restores normal downloads.
func (g *FakeGitLab) SetDownloadStatus(code int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.downloadStatus = code
}

// Count returns how many requests of the given kind were served.
func (g *FakeGitLab) Count(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[kind]
}

func (g *FakeGitLab) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("PRIVATE-TOKEN") != g.Token {
		http.Error(w, `{"message":"401 Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v4/projects")
	if path == r.URL.Path {
		http.NotFound(w, r)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if path == "" || path == "/" {
		g.counts[KindList]++
		g.writeList(w)
		return
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || len(parts) < 2 || parts[1] != "export" {
		http.NotFound(w, r)
		return
	}
	p, ok := g.projects[id]
	if !ok {
		http.Error(w, `{"message":"404 Project Not Found"}`, http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 2 && r.Method == http.MethodPost:
		g.counts[KindTrigger]++
		w.WriteHeader(g.triggerStatus)
		fmt.Fprint(w, `{"message":"202 Accepted"}`)
	case len(parts) == 2 && r.Method == http.MethodGet:
		g.counts[KindStatus]++
		g.writeStatus(w, p)
	case len(parts) == 3 && parts[2] == "download":
		g.counts[KindDownload]++
		g.writeArchive(w, p)
	default:
		http.NotFound(w, r)
	}
}

func (g *FakeGitLab) writeList(w http.ResponseWriter) {
	type namespace struct {
		Name string `json:"name"`
	}
	type project struct {
		ID             int64     `json:"id"`
		Name           string    `json:"name"`
		Path           string    `json:"path"`
		Namespace      namespace `json:"namespace"`
		LastActivityAt string    `json:"last_activity_at,omitempty"`
	}

	list := make([]project, 0, len(g.order))
	for _, id := range g.order {
		p := g.projects[id]
		list = append(list, project{
			ID:             p.ID,
			Name:           p.Name,
			Path:           strings.ToLower(p.Name),
			Namespace:      namespace{Name: p.Namespace},
			LastActivityAt: p.LastActivityAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (g *FakeGitLab) writeStatus(w http.ResponseWriter, p *FakeProject) {
	status := "finished"
	if n := len(p.Statuses); n > 0 {
		i := min(g.polls[p.ID], n-1)
		status = p.Statuses[i]
	}
	g.polls[p.ID]++

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":            p.ID,
		"name":          p.Name,
		"export_status": status,
	})
}

func (g *FakeGitLab) writeArchive(w http.ResponseWriter, p *FakeProject) {
	if g.downloadStatus != 0 {
		w.WriteHeader(g.downloadStatus)
		return
	}
	if g.rateLimited > 0 {
		g.rateLimited--
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Length", strconv.Itoa(len(p.Archive)))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s_%s_export.tar.gz"`, p.Namespace, p.Name))
	w.Write(p.Archive)
}
