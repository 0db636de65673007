package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pushbridge/internal/events"
)

const maxLog = 50

// ActionStats aggregates command outcomes for one action.
type ActionStats struct {
	Action    string
	OK        int
	Failed    int
	LastCode  string
	LastError string
	LastMS    int64
	LastAt    time.Time
}

// GateState mirrors the event gate as seen through /state and the stream.
type GateState struct {
	Foreground bool
	Callback   string
	Pending    bool
	Delivered  int
	Buffered   int
}

// Activity is the reduced view of the event stream.
type Activity struct {
	Actions map[string]*ActionStats
	Gate    GateState
	Log     []events.Event
}

func NewActivity() *Activity {
	return &Activity{Actions: make(map[string]*ActionStats)}
}

type commandData struct {
	Action     string `json:"action"`
	Code       string `json:"code"`
	Error      string `json:"error"`
	DurationMS int64  `json:"duration_ms"`
}

type sessionData struct {
	Data struct {
		Callback string `json:"callback"`
	} `json:"data"`
}

// Apply folds one event into the activity state.
func (a *Activity) Apply(e events.Event) {
	a.Log = append([]events.Event{e}, a.Log...)
	if len(a.Log) > maxLog {
		a.Log = a.Log[:maxLog]
	}

	switch e.Type {
	case events.CommandOK, events.CommandError:
		var d commandData
		if err := json.Unmarshal(e.Data, &d); err != nil || d.Action == "" {
			return
		}
		st, ok := a.Actions[d.Action]
		if !ok {
			st = &ActionStats{Action: d.Action}
			a.Actions[d.Action] = st
		}
		if e.Type == events.CommandOK {
			st.OK++
			st.LastCode, st.LastError = "", ""
		} else {
			st.Failed++
			st.LastCode, st.LastError = d.Code, d.Error
		}
		st.LastMS = d.DurationMS
		st.LastAt = e.At
	case events.EventBuffered:
		a.Gate.Pending = true
		a.Gate.Buffered++
	case events.EventDelivered:
		var d sessionData
		_ = json.Unmarshal(e.Data, &d)
		a.Gate.Pending = false
		a.Gate.Delivered++
		if d.Data.Callback != "" {
			a.Gate.Callback = d.Data.Callback
		}
	case "lifecycle.attach", "lifecycle.resume":
		a.Gate.Foreground = true
	case "lifecycle.pause":
		a.Gate.Foreground = false
	case "lifecycle.destroy":
		a.Gate.Foreground = false
		a.Gate.Callback = ""
	}
}

// Rows renders the per-action table, sorted by action name.
func (a *Activity) Rows(theme Theme) []table.Row {
	names := make([]string, 0, len(a.Actions))
	for name := range a.Actions {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		st := a.Actions[name]
		sym := theme.StatusOK.Render("●")
		if st.LastCode != "" {
			sym = theme.StatusFailed.Render("∅")
		}
		rows = append(rows, table.Row{
			sym,
			st.Action,
			fmt.Sprintf("%d", st.OK),
			fmt.Sprintf("%d", st.Failed),
			fmt.Sprintf("%dms", st.LastMS),
			st.LastCode,
		})
	}
	return rows
}

func renderGate(g GateState, theme Theme, width int) string {
	fg := theme.StatusWarn.Render("background")
	if g.Foreground {
		fg = theme.StatusOK.Render("foreground")
	}
	cb := theme.Dim.Render("none")
	if g.Callback != "" {
		cb = theme.Highlight.Render(g.Callback)
	}
	pending := theme.Dim.Render("empty")
	if g.Pending {
		pending = theme.StatusBuffered.Render("1 event buffered")
	}

	line := fmt.Sprintf(" View: %s  Callback: %s  Pending: %s  Delivered: %d  Buffered: %d",
		fg, cb, pending, g.Delivered, g.Buffered)
	return theme.Border.Width(width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("EVENT GATE"), line),
	)
}

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("ACTIVITY"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("ACTIVITY"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch {
	case e.Type == events.CommandOK, e.Type == events.EventDelivered:
		typeStyle = theme.StatusOK
	case e.Type == events.CommandError:
		typeStyle = theme.StatusFailed
	case e.Type == events.EventBuffered:
		typeStyle = theme.StatusBuffered
	case e.IsLifecycle():
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-18s", e.Type)), describe(e))
}

func describe(e events.Event) string {
	var parts []string
	if action := e.Field("action"); action != "" {
		parts = append(parts, action)
	}
	if code := e.Field("code"); code != "" {
		parts = append(parts, code)
	}
	if sid := e.Field("session_id"); sid != "" {
		if len(sid) > 8 {
			sid = sid[:8]
		}
		parts = append(parts, "["+sid+"]")
	}
	if remote := e.Field("remote"); remote != "" {
		parts = append(parts, remote)
	}
	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
