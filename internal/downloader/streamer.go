package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/h2non/filetype"

	"github.com/ligustah/labexport/internal/cache"
	"github.com/ligustah/labexport/internal/http"
	"github.com/ligustah/labexport/internal/logger"
	"github.com/ligustah/labexport/internal/progress"
	"github.com/ligustah/labexport/internal/retry"
)

// ChunkSize is the read buffer size used while streaming an archive.
const ChunkSize = 8192

// sniffSize is enough header bytes for filetype to recognise an archive.
const sniffSize = 262

// ErrShortRead is returned when the body ends before the declared size.
var ErrShortRead = errors.New("downloader: short read")

// Source opens the export archive of a project.
type Source interface {
	DownloadExport(ctx context.Context, projectID int64) (*http.Download, error)
}

// Options configures a Streamer.
type Options struct {
	// Policy bounds whole-transfer retries.
	Policy retry.Policy

	// Progress is where byte progress is printed. Nil disables it.
	Progress io.Writer

	// Logger defaults to a no-op logger.
	Logger *logger.Logger
}

// Attempt describes one transfer try.
type Attempt struct {
	Number        int
	Filename      string // name suggested by the server, if any
	BytesExpected int64
	BytesWritten  int64

	// Truncated is set once dest has been opened for writing.
	Truncated bool
}

// Streamer downloads export archives to local files.
type Streamer struct {
	src      Source
	policy   retry.Policy
	progress io.Writer
	log      *logger.Logger
}

// NewStreamer creates a Streamer reading from src.
func NewStreamer(src Source, opts Options) *Streamer {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Policy.Attempts < 1 {
		opts.Policy.Attempts = 1
	}

	return &Streamer{
		src:      src,
		policy:   opts.Policy,
		progress: opts.Progress,
		log:      opts.Logger,
	}
}

// Download streams the export of projectID into dest and returns the number
// of bytes written.
//
// Every attempt requests the archive again and rewrites dest from the start.
// Any failure is retried up to the policy's attempt count; only cancellation
// ends the download early. When the download fails after any attempt has
// opened dest, the partial file is removed. A file at dest that no attempt
// touched is left alone.
func (s *Streamer) Download(ctx context.Context, projectID int64, dest string) (int64, error) {
	var (
		written   int64
		truncated bool
	)

	err := retry.Do(ctx, s.policy, retryable, func(ctx context.Context, n int) error {
		a := Attempt{Number: n}
		err := s.attempt(ctx, projectID, dest, &a)

		ev := s.log.Info()
		if err != nil {
			class := http.Classify(err)
			ev = s.log.Warn().Err(err).Str("class", class.String()).Bool("transient", class.Retryable())
		}
		ev.Int64("project_id", projectID).
			Int("attempt", a.Number).
			Str("filename", a.Filename).
			Int("max_attempts", s.policy.Attempts).
			Int64("bytes_expected", a.BytesExpected).
			Int64("bytes_written", a.BytesWritten).
			Msg("download attempt")

		written = a.BytesWritten
		truncated = truncated || a.Truncated
		return err
	})
	if err != nil {
		if truncated {
			if rmErr := os.Remove(dest); rmErr != nil && !os.IsNotExist(rmErr) {
				s.log.Warn().Err(rmErr).Str("path", dest).Msg("could not remove partial download")
			}
		}
		return 0, fmt.Errorf("download project %d: %w", projectID, err)
	}

	s.sniff(dest)
	return written, nil
}

func (s *Streamer) attempt(ctx context.Context, projectID int64, dest string, a *Attempt) error {
	d, err := s.src.DownloadExport(ctx, projectID)
	if err != nil {
		return err
	}
	defer d.Body.Close()
	a.BytesExpected = d.Size
	a.Filename = d.Filename

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", dest, err)
	}
	defer f.Close()
	a.Truncated = true

	tracker := s.tracker(dest, d.Size)
	defer tracker.Stop()
	w := io.MultiWriter(f, tracker)

	buf := make([]byte, ChunkSize)
	for {
		n, rerr := d.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("%w: write %s: %w", http.ErrTransient, dest, werr)
			}
			a.BytesWritten += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: read body: %w", http.ErrTransient, rerr)
		}
	}

	if d.Size > 0 && a.BytesWritten != d.Size {
		return fmt.Errorf("%w: %w: got %d of %d bytes", http.ErrTransient, ErrShortRead, a.BytesWritten, d.Size)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", http.ErrTransient, dest, err)
	}
	return nil
}

func (s *Streamer) tracker(dest string, size int64) *progress.Tracker {
	if s.progress == nil {
		return progress.NewTracker(progress.Options{Output: io.Discard})
	}
	t := progress.NewTracker(progress.Options{
		Label:  baseName(dest),
		Total:  size,
		Output: s.progress,
	})
	t.Start()
	return t
}

// sniff warns when the downloaded file does not look like a gzip archive.
func (s *Streamer) sniff(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	head := make([]byte, sniffSize)
	n, _ := io.ReadFull(f, head)
	if filetype.Is(head[:n], "gz") {
		return
	}

	kind, _ := filetype.Match(head[:n])
	s.log.Warn().Str("path", path).Str("detected", kind.MIME.Value).Msg("archive does not look like a gzip file")
}

// retryable reports whether a failed attempt should be repeated. Every
// failure is, except cancellation: the transfer is retried as a whole until
// the attempts run out.
func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Filename returns the local archive name for a project: "{id}_{name}.tar.gz".
// Unless raw is set, name is reduced with cache.CleanName. Path separators
// are always replaced. An empty name becomes "project".
func Filename(id int64, name string, raw bool) string {
	if raw {
		name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	} else {
		name = cache.CleanName(name)
	}
	if name == "" {
		name = "project"
	}
	return fmt.Sprintf("%d_%s.tar.gz", id, name)
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
