// Package progress renders export and download progress on a terminal.
//
// A Tracker counts either bytes (downloads) or percent (server-side export
// progress) and periodically rewrites a single status line.
//
// # Usage
//
//	tracker := progress.NewTracker(progress.Options{
//	    Label: "42_demo.tar.gz",
//	    Unit:  progress.Bytes,
//	    Total: size,
//	})
//
//	tracker.Start()
//	defer tracker.Stop()
//
//	io.Copy(io.MultiWriter(file, tracker), body)
//
// # Output Format
//
//	[labexport] 42_demo.tar.gz: 45.2% | 1.1 MiB / 2.4 MiB | Speed: 1.2 MiB/s
//	[labexport] export 42: 37%
package progress
