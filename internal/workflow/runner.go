// Package workflow runs the complete export of one project: resolve the
// project, trigger and await the server-side export, download the archive,
// optionally mirror it, and finally drop the cached project list.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ligustah/labexport/internal/archive"
	"github.com/ligustah/labexport/internal/cache"
	"github.com/ligustah/labexport/internal/config"
	"github.com/ligustah/labexport/internal/downloader"
	"github.com/ligustah/labexport/internal/export"
	"github.com/ligustah/labexport/internal/http"
	"github.com/ligustah/labexport/internal/lock"
	"github.com/ligustah/labexport/internal/logger"
	"github.com/ligustah/labexport/internal/progress"
	"github.com/ligustah/labexport/internal/retry"
)

// ErrMissingProjectInfo is returned when a project id is not in the project
// list, even after refreshing it.
var ErrMissingProjectInfo = errors.New("workflow: project not found in project list")

// API is the GitLab client surface used by a Runner.
type API interface {
	export.Transport
	downloader.Source
	ListProjects(ctx context.Context) ([]http.Project, error)
}

// Result describes a completed export.
type Result struct {
	FlowID  string
	Project cache.Project
	Path    string
	Bytes   int64
	Took    time.Duration

	// Mirrored is the object key in the archive bucket, if mirroring ran
	// and succeeded.
	Mirrored string
	// MirrorErr is set when mirroring was configured but failed. The export
	// itself still succeeded.
	MirrorErr error
}

// Runner executes flows against one GitLab host.
type Runner struct {
	cfg   config.Config
	api   API
	store *cache.Store
	log   *logger.Logger
	out   io.Writer
}

// New creates a Runner. Progress lines are written to out; a nil out
// disables them.
func New(cfg config.Config, api API, log *logger.Logger, out io.Writer) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{
		cfg:   cfg,
		api:   api,
		store: cache.NewStore(cfg.Cache.Dir, cfg.GitLab.URL),
		log:   log,
		out:   out,
	}
}

// Store returns the project cache of the runner's host.
func (r *Runner) Store() *cache.Store { return r.store }

// ListProjects fetches the first page of projects from the host.
func (r *Runner) ListProjects(ctx context.Context) ([]cache.Project, error) {
	list, err := r.api.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	projects := make([]cache.Project, 0, len(list))
	for _, p := range list {
		activity := p.LastActivityAt
		if activity == "" {
			activity = cache.UnknownActivity
		}
		projects = append(projects, cache.Project{
			ID:             p.ID,
			Name:           p.Name,
			Path:           p.Path,
			Namespace:      p.Namespace.Name,
			LastActivityAt: activity,
		})
	}
	if len(projects) == http.PageSize {
		r.log.Warn().Int("count", len(projects)).Msg("project list may be incomplete, only the first page is fetched")
	}
	return projects, nil
}

// SaveProjects stores projects in the cache.
func (r *Runner) SaveProjects(projects []cache.Project) error {
	if err := r.store.Save(projects); err != nil {
		return err
	}
	r.log.Info().Str("path", r.store.Path()).Int("count", len(projects)).Msg("project list saved")
	return nil
}

// CachedProjects returns the cached project list, fetching and saving it
// first when there is none.
func (r *Runner) CachedProjects(ctx context.Context) ([]cache.Project, error) {
	doc, err := r.store.Load()
	if err == nil {
		return doc.Projects, nil
	}
	if !errors.Is(err, cache.ErrNotCached) {
		return nil, err
	}

	r.log.Info().Msg("no cached project list, fetching")
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.SaveProjects(projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// Export runs one complete export of projectID.
//
// Any failure before the archive is on disk aborts the flow and leaves the
// project cache untouched. Mirroring failures are reported in Result only.
func (r *Runner) Export(ctx context.Context, projectID int64) (Result, error) {
	res := Result{FlowID: uuid.NewString()}
	log := r.log.With("flow_id", res.FlowID)
	start := time.Now()

	l, err := lock.Acquire(r.cfg.LockPath())
	if err != nil {
		return res, err
	}
	defer l.Release()

	project, err := r.resolve(ctx, projectID)
	if err != nil {
		return res, err
	}
	res.Project = project
	log.Info().Int64("project_id", project.ID).Str("name", project.Name).Msg("starting export")

	if err := os.MkdirAll(r.cfg.Output.Dir, 0o755); err != nil {
		return res, fmt.Errorf("create output dir: %w", err)
	}

	if err := r.awaitExport(ctx, log, projectID); err != nil {
		return res, err
	}

	res.Path = filepath.Join(r.cfg.Output.Dir, downloader.Filename(project.ID, project.Name, r.cfg.Output.RawNames))
	streamer := downloader.NewStreamer(r.api, downloader.Options{
		Policy: retry.Policy{
			Attempts: r.cfg.Download.MaxRetries,
			Delay:    r.cfg.Download.RetryDelay,
		},
		Progress: r.out,
		Logger:   log,
	})
	res.Bytes, err = streamer.Download(ctx, projectID, res.Path)
	if err != nil {
		return res, err
	}

	if r.cfg.Archive.Bucket != "" {
		res.Mirrored, res.MirrorErr = r.mirror(ctx, project, res.Path)
		if res.MirrorErr != nil {
			log.Warn().Err(res.MirrorErr).Msg("archive mirror failed")
		}
	}

	if err := r.store.Remove(); err != nil {
		log.Warn().Err(err).Msg("could not remove project cache")
	}

	res.Took = time.Since(start)
	log.Info().
		Str("path", res.Path).
		Str("size", progress.FormatBytes(res.Bytes)).
		Dur("took", res.Took).
		Msg("export complete")
	return res, nil
}

// resolve finds the project in the cache, refreshing the cache once on a
// miss.
func (r *Runner) resolve(ctx context.Context, projectID int64) (cache.Project, error) {
	p, err := r.store.Lookup(projectID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, cache.ErrNotCached) && !errors.Is(err, cache.ErrProjectNotCached) {
		return cache.Project{}, err
	}

	projects, err := r.ListProjects(ctx)
	if err != nil {
		return cache.Project{}, fmt.Errorf("refresh project list: %w", err)
	}
	if err := r.SaveProjects(projects); err != nil {
		return cache.Project{}, err
	}

	doc := cache.Document{Projects: projects}
	if p, ok := doc.Find(projectID); ok {
		return p, nil
	}
	return cache.Project{}, fmt.Errorf("%w: %d", ErrMissingProjectInfo, projectID)
}

func (r *Runner) awaitExport(ctx context.Context, log *logger.Logger, projectID int64) error {
	var tracker *progress.Tracker
	if r.out != nil {
		tracker = progress.NewTracker(progress.Options{
			Label:  fmt.Sprintf("export %d", projectID),
			Unit:   progress.Percent,
			Output: r.out,
		})
		tracker.Start()
		defer tracker.Stop()
	}

	m := export.New(r.api, export.Options{
		Interval: r.cfg.Poll.Interval,
		Tracker:  tracker,
		Logger:   log,
	})
	state, err := m.Run(ctx, projectID)
	if err != nil {
		log.Warn().Err(err).Str("state", state.String()).Int("polls", m.Polls()).Msg("export did not finish")
		return err
	}
	return nil
}

func (r *Runner) mirror(ctx context.Context, p cache.Project, path string) (string, error) {
	m, err := archive.Open(ctx, r.cfg.Archive.Bucket, r.cfg.Archive.Prefix)
	if err != nil {
		return "", err
	}
	defer m.Close()

	obj, err := m.Put(ctx, path, archive.Source{ProjectID: p.ID, URL: r.cfg.GitLab.URL})
	if err != nil {
		return "", err
	}

	v, err := m.Validate(ctx, obj.Key, *obj)
	if err != nil {
		return "", err
	}
	if err := v.Err(); err != nil {
		return "", err
	}
	return obj.Key, nil
}
