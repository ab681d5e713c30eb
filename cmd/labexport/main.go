// Command labexport lists projects on a GitLab host and exports a chosen
// project's archive to disk.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidArgs  = 2
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// An interrupt ends the process right away. Partial downloads and the
	// lock file are left as they are; the OS drops the lock.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stdout, "\nInterrupted")
		os.Exit(ExitSuccess)
	}()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
