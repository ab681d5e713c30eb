// Package downloader streams project export archives to local files.
//
// A Streamer reads the archive body in fixed 8 KiB chunks and writes it to
// the destination file, reporting bytes to a progress.Tracker as it goes.
//
// # Retries
//
// The whole transfer is the unit of retry. Each attempt re-requests the
// archive and truncates the destination; there is no resume. Rate limiting,
// other non-200 responses, network and body read errors, local write errors
// and short reads are all retried up to the configured attempt count with a
// constant delay. The failure class of each attempt is logged. A failed
// download leaves no partial file behind.
//
// # Usage
//
//	s := downloader.NewStreamer(client, downloader.Options{
//	    Policy:   retry.Policy{Attempts: 3, Delay: 5 * time.Second},
//	    Progress: os.Stdout,
//	    Logger:   log,
//	})
//
//	name := downloader.Filename(42, "demo", false) // 42_demo.tar.gz
//	n, err := s.Download(ctx, 42, filepath.Join(dir, name))
package downloader
