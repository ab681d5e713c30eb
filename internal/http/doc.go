// Package http provides the GitLab transport used by labexport.
//
// This package handles:
//   - Authenticated calls with a static PRIVATE-TOKEN header
//   - Listing projects (first page of 100 only)
//   - Triggering an export (success only on 202 Accepted)
//   - Reading the export_status of a project
//   - Opening the export archive as a stream
//   - Classifying failures into rate-limited, transient, auth, not-found
//     and fatal ([Classify])
//
// The client never retries on its own. Retry decisions belong to callers,
// which use [Classify] to tell retryable failures from fatal ones.
//
// # Usage
//
//	client := http.NewClient(cfg.GitLab, log)
//
//	if err := client.TriggerExport(ctx, 42); err != nil { ... }
//	status, err := client.ExportStatus(ctx, 42)
//
//	d, err := client.DownloadExport(ctx, 42)
//	defer d.Body.Close()
package http
