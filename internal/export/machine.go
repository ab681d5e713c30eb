package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/ligustah/labexport/internal/http"
	"github.com/ligustah/labexport/internal/logger"
	"github.com/ligustah/labexport/internal/progress"
)

// Common errors.
var (
	ErrTriggerFailed  = errors.New("export: trigger failed")
	ErrExportFailed   = errors.New("export: server reported failure")
	ErrExportNotFound = errors.New("export: no export found for project")
)

// DefaultInterval is the pause between two status polls.
const DefaultInterval = 300 * time.Millisecond

// progressCeiling is the highest value the heuristic reaches before the
// server reports a finished export.
const progressCeiling = 90

// State is the lifecycle state of one export.
type State int

const (
	Idle State = iota
	Triggered
	Polling
	Finished
	Failed
	NotFound
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Triggered:
		return "triggered"
	case Polling:
		return "polling"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	case NotFound:
		return "not-found"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == Finished || s == Failed || s == NotFound
}

// Transport is the part of the GitLab client the machine needs.
type Transport interface {
	TriggerExport(ctx context.Context, projectID int64) error
	ExportStatus(ctx context.Context, projectID int64) (http.ExportStatus, error)
}

// Options configures a Machine.
type Options struct {
	// Interval is the pause between status polls. Default: 300ms.
	Interval time.Duration

	// Tracker receives percent progress. Optional.
	Tracker *progress.Tracker

	// Logger defaults to a no-op logger.
	Logger *logger.Logger
}

// Machine drives a single project export from trigger to a terminal state.
// A Machine is not safe for concurrent use.
type Machine struct {
	transport Transport
	interval  time.Duration
	tracker   *progress.Tracker
	log       *logger.Logger

	state State
	polls int
}

// New creates a Machine in the Idle state.
func New(transport Transport, opts Options) *Machine {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Tracker == nil {
		opts.Tracker = progress.NewTracker(progress.Options{Unit: progress.Percent, Output: io.Discard})
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	return &Machine{
		transport: transport,
		interval:  opts.Interval,
		tracker:   opts.Tracker,
		log:       opts.Logger,
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Polls returns the number of status requests made so far.
func (m *Machine) Polls() int { return m.polls }

// Run triggers the export and polls until the server reports a terminal
// status or ctx ends. Polling has no attempt limit.
//
// A machine that already reached a terminal state returns it again without
// contacting the server.
func (m *Machine) Run(ctx context.Context, projectID int64) (State, error) {
	if m.state.Terminal() {
		return m.state, terminalError(m.state)
	}

	if m.state == Idle {
		if err := m.transport.TriggerExport(ctx, projectID); err != nil {
			return m.state, fmt.Errorf("%w: %w", ErrTriggerFailed, err)
		}
		m.state = Triggered
		m.log.Info().Int64("project_id", projectID).Msg("export triggered")
	}

	m.state = Polling
	pacer := rate.NewLimiter(rate.Every(m.interval), 1)

	for {
		if err := pacer.Wait(ctx); err != nil {
			return m.state, err
		}

		m.polls++
		status, err := m.transport.ExportStatus(ctx, projectID)
		if err != nil {
			if ctx.Err() != nil {
				return m.state, ctx.Err()
			}
			m.log.Debug().Err(err).Int64("project_id", projectID).Int("poll", m.polls).Msg("status poll failed, polling again")
		}

		switch status {
		case http.StatusFinished:
			m.state = Finished
			m.tracker.Set(100)
			m.log.Info().Int64("project_id", projectID).Int("polls", m.polls).Msg("export finished")
			return m.state, nil
		case http.StatusFailed:
			m.state = Failed
			return m.state, ErrExportFailed
		case http.StatusNone:
			m.state = NotFound
			return m.state, ErrExportNotFound
		}

		if m.tracker.Current() < progressCeiling {
			m.tracker.Add(1)
		}
		if err == nil {
			m.log.Debug().Int64("project_id", projectID).Str("status", string(status)).Msg("export in progress")
		}
	}
}

func terminalError(s State) error {
	switch s {
	case Failed:
		return ErrExportFailed
	case NotFound:
		return ErrExportNotFound
	default:
		return nil
	}
}
