package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ligustah/labexport/internal/export"
	"github.com/ligustah/labexport/internal/http"
	"github.com/ligustah/labexport/internal/lock"
	"github.com/ligustah/labexport/internal/progress"
	"github.com/ligustah/labexport/internal/retry"
	"github.com/ligustah/labexport/internal/workflow"
)

// describe turns an error into the single line shown to the user.
func describe(err error) string {
	var exhausted *retry.ExhaustedError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "Interrupted"
	case errors.Is(err, errUsage):
		return "Usage error: " + err.Error()
	case errors.Is(err, errBadConfig):
		return "Configuration error: " + err.Error()
	case errors.Is(err, lock.ErrBusy):
		return "Another export is already running. Try again when it has finished."
	case errors.Is(err, workflow.ErrMissingProjectInfo):
		return "Project not found in the project list. Check the id and your access."
	case errors.Is(err, export.ErrTriggerFailed):
		return "Could not start the export: " + reason(err)
	case errors.Is(err, export.ErrExportFailed):
		return "The export failed on the server."
	case errors.Is(err, export.ErrExportNotFound):
		return "No export found for this project. Check the id and your permissions."
	case errors.As(err, &exhausted):
		return fmt.Sprintf("Download failed after %d attempts: %s", exhausted.Attempts, reason(exhausted.Last))
	default:
		return "Error: " + reason(err)
	}
}

// reason names the transport failure behind err, or falls back to its text.
func reason(err error) string {
	switch {
	case errors.Is(err, http.ErrUnauthorized):
		return "authentication failed, check the private token"
	case errors.Is(err, http.ErrForbidden):
		return "access denied"
	case errors.Is(err, http.ErrNotFound):
		return "project not found"
	case errors.Is(err, http.ErrRateLimited):
		return "rate limited by the server"
	case errors.Is(err, http.ErrTransient):
		return "connection problem (" + err.Error() + ")"
	default:
		return err.Error()
	}
}

func describeResult(res workflow.Result) string {
	msg := fmt.Sprintf("Exported %q to %s (%s)", res.Project.Name, res.Path, progress.FormatBytes(res.Bytes))
	if res.Mirrored != "" {
		msg += ", mirrored as " + res.Mirrored
	}
	return successStyle.Render(msg)
}
