package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/text"

	"prevant/internal/domain"
	strutil "prevant/pkg/strings"
)

// urlColumnMaxLen bounds how much horizontal space a service/OpenAPI URL
// column takes in table output; long presigned or path-heavy URLs would
// otherwise blow out the table width.
const urlColumnMaxLen = 48

// emojiDisabled caches whether emoji display is disabled via environment
// variable. Check NO_EMOJI or PREVANT_NO_EMOJI.
var emojiDisabled = os.Getenv("NO_EMOJI") != "" || os.Getenv("PREVANT_NO_EMOJI") != ""

// IsEmojiDisabled returns true if emoji display is disabled via environment
// variables. Users can set NO_EMOJI=1 or PREVANT_NO_EMOJI=1 to disable emoji
// in output.
func IsEmojiDisabled() bool {
	return emojiDisabled
}

func icon(emoji, fallback string) string {
	if emojiDisabled {
		return fallback
	}
	return emoji
}

// serviceStateIcon renders a colored, optionally-iconified label for a
// service's observed runtime state.
func serviceStateIcon(state domain.ServiceState) string {
	switch state {
	case domain.StateRunning:
		return text.FgGreen.Sprint(icon("✅ running", "running"))
	case domain.StatePaused:
		return text.FgYellow.Sprint(icon("⏸ paused", "paused"))
	case domain.StateStarting:
		return text.FgYellow.Sprint(icon("🔄 starting", "starting"))
	case domain.StateTerminated:
		return text.FgRed.Sprint(icon("⛔ terminated", "terminated"))
	default:
		return text.FgHiBlack.Sprint(icon("❓ unknown", "unknown"))
	}
}

// taskStatusIcon renders a colored, optionally-iconified label for a task's
// lifecycle status.
func taskStatusIcon(status domain.TaskStatus) string {
	switch status {
	case domain.TaskQueued:
		return text.FgHiBlack.Sprint(icon("⏳ queued", "queued"))
	case domain.TaskRunning:
		return text.FgYellow.Sprint(icon("🔄 running", "running"))
	case domain.TaskDone:
		return text.FgGreen.Sprint(icon("✅ done", "done"))
	default:
		return string(status)
	}
}

// RenderApps writes a kubectl-style table of apps and their services to w.
// Each service occupies one row; apps with no services still get a row so
// the app itself is visible.
func RenderApps(w io.Writer, apps []domain.App, noHeaders bool) {
	tw := NewPlainTableWriter(w)
	tw.SetHeaders([]string{"app", "status", "service", "type", "image", "state", "url"})
	tw.SetNoHeaders(noHeaders)

	for _, app := range apps {
		if len(app.Services) == 0 {
			tw.AppendRow([]string{string(app.Name), string(app.Status), "-", "-", "-", "-", "-"})
			continue
		}
		for _, svc := range app.Services {
			tw.AppendRow([]string{
				string(app.Name),
				string(app.Status),
				svc.Name,
				string(svc.Type),
				svc.Image,
				serviceStateIcon(svc.State),
				strutil.TruncateDescription(svc.URL, urlColumnMaxLen),
			})
		}
	}
	tw.Render()
}

// RenderApp writes a single app's detail (owners plus one row per service)
// to w.
func RenderApp(w io.Writer, app domain.App) {
	fmt.Fprintf(w, "App:    %s\n", app.Name)
	fmt.Fprintf(w, "Status: %s\n", app.Status)
	if len(app.Owners) > 0 {
		fmt.Fprint(w, "Owners: ")
		for i, o := range app.Owners {
			if i > 0 {
				fmt.Fprint(w, ", ")
			}
			fmt.Fprint(w, o.Sub)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	tw := NewPlainTableWriter(w)
	tw.SetHeaders([]string{"service", "type", "image", "state", "version", "url"})
	for _, svc := range app.Services {
		tw.AppendRow([]string{svc.Name, string(svc.Type), svc.Image, serviceStateIcon(svc.State), svc.Version, svc.URL})
	}
	tw.Render()
}

// RenderTasks writes a kubectl-style table of queued/running/done tasks to w.
func RenderTasks(w io.Writer, tasks []domain.Task, noHeaders bool) {
	tw := NewPlainTableWriter(w)
	tw.SetHeaders([]string{"id", "app", "kind", "status"})
	tw.SetNoHeaders(noHeaders)

	for _, t := range tasks {
		tw.AppendRow([]string{t.ID, string(t.AppName), string(t.Kind), taskStatusIcon(t.Status)})
	}
	tw.Render()
}
