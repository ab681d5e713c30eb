// Package archive mirrors downloaded project archives into object storage.
//
// Storage is accessed through gocloud.dev/blob, so the same code writes to a
// local directory (file://), memory (mem://), S3 or S3-compatible stores
// (s3://) and Google Cloud Storage (gs://).
//
// Each object carries the project id, the GitLab URL it came from and the
// SHA-256 of its content as metadata. [Mirror.Validate] compares a stored
// object against those values without downloading it.
package archive
