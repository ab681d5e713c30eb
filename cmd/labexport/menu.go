package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ligustah/labexport/internal/cache"
)

// menu runs the interactive loop until the user picks exit or input ends.
func (a *app) menu(ctx context.Context) error {
	for {
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, titleStyle.Render("GitLab project export"))
		fmt.Fprintln(a.out, "1. List projects")
		fmt.Fprintln(a.out, "2. Export a project")
		fmt.Fprintln(a.out, "0. Exit")

		choice, err := a.prompt("Choice: ")
		if err != nil {
			return nil
		}

		switch choice {
		case "1":
			a.report(a.fresh(ctx, a.menuList))
		case "2":
			a.report(a.fresh(ctx, a.menuExport))
		case "0":
			fmt.Fprintln(a.out, "Bye.")
			return nil
		default:
			fmt.Fprintln(a.out, helpStyle.Render("Please choose 1, 2 or 0."))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// fresh re-reads the configuration before running a menu action, so edits
// made between flows take effect.
func (a *app) fresh(ctx context.Context, action func(context.Context) error) error {
	if err := a.configure(); err != nil {
		return err
	}
	return action(ctx)
}

func (a *app) menuList(ctx context.Context) error {
	projects, err := a.runner.ListProjects(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, renderProjects(projects))
	if len(projects) == 0 {
		return nil
	}

	answer, err := a.prompt("Save this list? [y/N]: ")
	if err != nil || !strings.EqualFold(answer, "y") {
		return nil
	}
	if err := a.runner.SaveProjects(projects); err != nil {
		return err
	}
	fmt.Fprintln(a.out, successStyle.Render("Saved to "+a.runner.Store().Path()))
	return nil
}

func (a *app) menuExport(ctx context.Context) error {
	projects, err := a.runner.CachedProjects(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, renderProjects(projects))

	doc := cache.Document{Projects: projects}
	for {
		answer, err := a.prompt("Project ID to export (0 to go back): ")
		if err != nil {
			return nil
		}

		id, err := strconv.ParseInt(answer, 10, 64)
		switch {
		case err != nil || id < 0:
			fmt.Fprintln(a.out, helpStyle.Render("Please enter a numeric project id."))
			continue
		case id == 0:
			return nil
		}
		if _, ok := doc.Find(id); !ok {
			fmt.Fprintln(a.out, helpStyle.Render("No project with that id in the list."))
			continue
		}

		return a.export(ctx, id)
	}
}

// report prints a failed menu action without leaving the menu.
func (a *app) report(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	fmt.Fprintln(a.out, errorStyle.Render(describe(err)))
}

// prompt reads one trimmed line. It returns io.EOF once input is exhausted.
func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", io.EOF
	}
	return strings.TrimSpace(line), nil
}
