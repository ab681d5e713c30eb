package main

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ligustah/labexport/internal/cache"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	helpStyle    = lipgloss.NewStyle().Faint(true)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// renderProjects renders projects as a table. Activity shows the date only.
func renderProjects(projects []cache.Project) string {
	if len(projects) == 0 {
		return helpStyle.Render("No projects found.")
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "NAMESPACE", "NAME", "LAST ACTIVITY").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, p := range projects {
		t.Row(strconv.FormatInt(p.ID, 10), p.Namespace, p.Name, p.Date())
	}
	return t.String()
}
