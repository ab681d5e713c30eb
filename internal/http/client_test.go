package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligustah/labexport/internal/config"
	"github.com/ligustah/labexport/internal/logger"
)

const testToken = "glpat-test"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(config.GitLabConfig{
		URL:     server.URL,
		Token:   testToken,
		Timeout: 5 * time.Second,
	}, logger.Nop())
}

func TestListProjects(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v4/projects", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("simple"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		assert.Equal(t, testToken, r.Header.Get("PRIVATE-TOKEN"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"id": 42, "name": "demo", "path": "demo", "namespace": {"name": "team"}, "last_activity_at": "2024-05-01T10:00:00Z"},
			{"id": 7, "name": "tools", "path": "tools", "namespace": {"name": "ops"}}
		]`)
	})

	projects, err := client.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 2)

	assert.Equal(t, int64(42), projects[0].ID)
	assert.Equal(t, "demo", projects[0].Name)
	assert.Equal(t, "team", projects[0].Namespace.Name)
	assert.Equal(t, "2024-05-01T10:00:00Z", projects[0].LastActivityAt)
	assert.Empty(t, projects[1].LastActivityAt)
}

func TestListProjectsUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"401 Unauthorized"}`)
	})

	_, err := client.ListProjects(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, ClassAuth, Classify(err))
}

func TestTriggerExportAccepted(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v4/projects/42/export", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"message":"202 Accepted"}`)
	})

	require.NoError(t, client.TriggerExport(context.Background(), 42))
	assert.True(t, called)
}

func TestTriggerExportRejectsOtherSuccessCodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	err := client.TriggerExport(context.Background(), 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Equal(t, ClassFatal, Classify(err))
}

func TestExportStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v4/projects/42/export", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": 42, "name": "demo", "export_status": "started"}`)
	})

	status, err := client.ExportStatus(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, status)
}

func TestExportStatusFailureIsUnknown(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	status, err := client.ExportStatus(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, StatusUnknown, status)
}

func TestDownloadExport(t *testing.T) {
	data := make([]byte, 20000)
	for i := range data {
		data[i] = byte(i % 251)
	}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/42/export/download", r.URL.Path)
		assert.Equal(t, testToken, r.Header.Get("PRIVATE-TOKEN"))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Content-Disposition", `attachment; filename="2024-05-01_10-00-000_team_demo_export.tar.gz"`)
		w.Write(data)
	})

	d, err := client.DownloadExport(context.Background(), 42)
	require.NoError(t, err)
	defer d.Body.Close()

	assert.Equal(t, int64(len(data)), d.Size)
	assert.Equal(t, "2024-05-01_10-00-000_team_demo_export.tar.gz", d.Filename)

	got, err := io.ReadAll(d.Body)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDownloadExportRateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "slow down")
	})

	d, err := client.DownloadExport(context.Background(), 42)
	require.Error(t, err)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, ClassRateLimited, Classify(err))
	assert.True(t, Classify(err).Retryable())
}

func TestDownloadExportNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := client.DownloadExport(context.Background(), 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, Classify(err).Retryable())
}

func TestNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(config.GitLabConfig{URL: url, Token: testToken, Timeout: time.Second}, nil)
	_, err := client.DownloadExport(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, ClassTransient, Classify(err))
}

func TestContextCancellation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.ListProjects(ctx)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err       error
		class     Class
		retryable bool
	}{
		{nil, ClassFatal, false},
		{fmt.Errorf("wrap: %w", ErrRateLimited), ClassRateLimited, true},
		{fmt.Errorf("%w: %w", ErrTransient, io.ErrUnexpectedEOF), ClassTransient, true},
		{ErrForbidden, ClassAuth, false},
		{ErrNotFound, ClassNotFound, false},
		{context.Canceled, ClassFatal, false},
		{errors.New("boom"), ClassFatal, false},
	}

	for _, tt := range tests {
		got := Classify(tt.err)
		assert.Equal(t, tt.class, got, "Classify(%v)", tt.err)
		assert.Equal(t, tt.retryable, got.Retryable(), "Retryable(%v)", tt.err)
	}
}

func TestExpectStatus(t *testing.T) {
	assert.NoError(t, expectStatus(202, 202, nil))

	err := expectStatus(500, 200, nil)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "Internal Server Error")

	err = expectStatus(403, 200, []byte(" forbidden for you "))
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Contains(t, err.Error(), "forbidden for you")
}
