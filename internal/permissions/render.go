package permissions

import (
	"fmt"
	"io"

	"partnercore/pkg/domain"
)

// Render writes the rights of role on kind as one table per status.
func Render(w io.Writer, m *Matrix, role domain.Role, kind domain.Kind) error {
	statuses := m.Statuses(kind)
	if len(statuses) == 0 {
		return domain.UnknownSubject("render", fmt.Sprintf("unknown document kind %q", kind))
	}
	paths := m.FieldPaths(kind)
	width := len("path")
	for _, p := range paths {
		if len(p) > width {
			width = len(p)
		}
	}
	for i, status := range statuses {
		cell, err := m.Fields(role, kind, status)
		if err != nil {
			return err
		}
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "== %s / %s (%s)\n%-*s  view  edit\n", kind, status, role, width, "path"); err != nil {
			return err
		}
		for _, p := range paths {
			r := cell[p]
			if _, err := fmt.Fprintf(w, "%-*s  %-4s  %s\n", width, p, yesNo(r.View), yesNo(r.Edit)); err != nil {
				return err
			}
		}
	}
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
