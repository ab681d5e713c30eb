package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligustah/labexport/internal/cache"
	"github.com/ligustah/labexport/internal/export"
	"github.com/ligustah/labexport/internal/http"
	"github.com/ligustah/labexport/internal/lock"
	"github.com/ligustah/labexport/internal/retry"
	"github.com/ligustah/labexport/internal/testutils"
	"github.com/ligustah/labexport/internal/workflow"
)

type cliEnv struct {
	gitlab   *testutils.FakeGitLab
	outDir   string
	cacheDir string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()

	g := testutils.StartFakeGitLab(t,
		testutils.FakeProject{
			ID: 42, Name: "demo", Namespace: "team",
			LastActivityAt: "2024-05-01T10:00:00Z",
			Archive:        testutils.GenerateTestData(1000),
			Statuses:       []string{"queued", "finished"},
		},
		testutils.FakeProject{ID: 7, Name: "tools", Namespace: "ops"},
	)

	env := &cliEnv{
		gitlab:   g,
		outDir:   filepath.Join(dir, "out"),
		cacheDir: filepath.Join(dir, "cache"),
	}
	t.Setenv("LABEXPORT_CACHE_DIR", env.cacheDir)
	t.Setenv("LABEXPORT_POLL_INTERVAL", "1ms")
	t.Setenv("LABEXPORT_DOWNLOAD_RETRY_DELAY", "1ms")
	t.Setenv("LABEXPORT_LOG_LEVEL", "error")
	return env
}

func (e *cliEnv) run(input string, args ...string) (int, string, string) {
	var out, errOut bytes.Buffer
	full := append([]string{"--url", e.gitlab.URL(), "--token", e.gitlab.Token, "--output", e.outDir}, args...)
	code := run(context.Background(), full, strings.NewReader(input), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestListCommand(t *testing.T) {
	env := newCLIEnv(t)

	code, out, _ := env.run("", "list")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "demo")
	assert.Contains(t, out, "2024-05-01")
	assert.NotContains(t, out, "T10:00:00Z")
	assert.Contains(t, out, "unknown")

	_, err := os.Stat(filepath.Join(env.cacheDir, cache.Token(env.gitlab.URL())+".yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestListCommandSave(t *testing.T) {
	env := newCLIEnv(t)

	code, out, _ := env.run("", "list", "--save")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Saved 2 projects")
	assert.FileExists(t, filepath.Join(env.cacheDir, cache.Token(env.gitlab.URL())+".yaml"))
}

func TestExportCommand(t *testing.T) {
	env := newCLIEnv(t)

	code, out, errOut := env.run("", "export", "42")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "42_demo.tar.gz")

	info, err := os.Stat(filepath.Join(env.outDir, "42_demo.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), info.Size())
}

func TestExportCommandFailures(t *testing.T) {
	env := newCLIEnv(t)

	code, _, errOut := env.run("", "export", "99")
	assert.Equal(t, ExitGeneralError, code)
	assert.Contains(t, errOut, "Project not found in the project list")

	code, _, errOut = env.run("", "export", "abc")
	assert.Equal(t, ExitInvalidArgs, code)
	assert.Contains(t, errOut, "Usage error")

	code, _, _ = env.run("", "export")
	assert.Equal(t, ExitInvalidArgs, code)
}

func TestBadConfig(t *testing.T) {
	var out, errOut bytes.Buffer
	t.Setenv("LABEXPORT_GITLAB_URL", "")
	code := run(context.Background(), []string{"list", "--token", "x"}, strings.NewReader(""), &out, &errOut)
	assert.Equal(t, ExitGeneralError, code)
	assert.Contains(t, errOut.String(), "Configuration error")
}

func TestMenuListAndSave(t *testing.T) {
	env := newCLIEnv(t)

	code, out, _ := env.run("1\ny\n0\n")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "GitLab project export")
	assert.Contains(t, out, "tools")
	assert.Contains(t, out, "Saved to")
	assert.Contains(t, out, "Bye.")
}

func TestMenuExportRepromptsAndExports(t *testing.T) {
	env := newCLIEnv(t)

	code, out, _ := env.run("2\nabc\n99\n42\n0\n")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Please enter a numeric project id.")
	assert.Contains(t, out, "No project with that id in the list.")
	assert.Contains(t, out, "42_demo.tar.gz")
	assert.Equal(t, 1, env.gitlab.Count(testutils.KindDownload))
}

// lineReader hands out one line per Read and runs hooks before the line
// with the matching index.
type lineReader struct {
	lines []string
	hooks map[int]func()
	next  int
}

func (r *lineReader) Read(p []byte) (int, error) {
	if r.next >= len(r.lines) {
		return 0, io.EOF
	}
	if hook, ok := r.hooks[r.next]; ok {
		hook()
	}
	n := copy(p, r.lines[r.next])
	r.next++
	return n, nil
}

func TestMenuRereadsConfigPerFlow(t *testing.T) {
	env := newCLIEnv(t)
	bucketDir := t.TempDir()

	in := &lineReader{
		lines: []string{"2\n", "42\n", "2\n", "42\n", "0\n"},
		hooks: map[int]func(){
			2: func() { t.Setenv("LABEXPORT_ARCHIVE_BUCKET", "file://"+filepath.ToSlash(bucketDir)) },
		},
	}

	var out, errOut bytes.Buffer
	args := []string{"--url", env.gitlab.URL(), "--token", env.gitlab.Token, "--output", env.outDir}
	code := run(context.Background(), args, in, &out, &errOut)
	require.Equal(t, ExitSuccess, code, errOut.String())

	assert.Equal(t, 2, env.gitlab.Count(testutils.KindDownload))
	assert.NotContains(t, out.String(), "Archive mirror failed")
	assert.FileExists(t, filepath.Join(bucketDir, "42_demo.tar.gz"))
}

func TestMenuExportGoBack(t *testing.T) {
	env := newCLIEnv(t)

	code, _, _ := env.run("2\n0\n0\n")
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, 0, env.gitlab.Count(testutils.KindTrigger))
}

func TestMenuEndOfInput(t *testing.T) {
	env := newCLIEnv(t)

	code, _, _ := env.run("")
	assert.Equal(t, ExitSuccess, code)
}

func TestMenuInvalidChoice(t *testing.T) {
	env := newCLIEnv(t)

	code, out, _ := env.run("9\n0\n")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Please choose 1, 2 or 0.")
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{lock.ErrBusy, "Another export is already running"},
		{fmt.Errorf("x: %w", workflow.ErrMissingProjectInfo), "Project not found in the project list"},
		{fmt.Errorf("%w: %w", export.ErrTriggerFailed, http.ErrForbidden), "Could not start the export: access denied"},
		{export.ErrExportFailed, "failed on the server"},
		{export.ErrExportNotFound, "No export found"},
		{&retry.ExhaustedError{Attempts: 3, Last: http.ErrRateLimited}, "Download failed after 3 attempts: rate limited"},
		{http.ErrUnauthorized, "check the private token"},
		{context.Canceled, "Interrupted"},
	}

	for _, tt := range tests {
		assert.Contains(t, describe(tt.err), tt.want, "describe(%v)", tt.err)
	}
}
