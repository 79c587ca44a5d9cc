package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/smallnest/checkpointer/recency"
	"github.com/smallnest/checkpointer/retention"
	"github.com/smallnest/checkpointer/saver"
	"github.com/smallnest/checkpointer/store"
)

var (
	colorPrimary = lipgloss.Color("#FF6B35")
	colorSuccess = lipgloss.Color("#10B981")
	colorMuted   = lipgloss.Color("#6B7280")

	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	styleLabel = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(12)

	styleID = lipgloss.NewStyle().
		Foreground(colorSuccess)

	styleMuted = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true)
)

func (a *app) print(w io.Writer, v any) error {
	if a.format == "json" {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}

	var sb strings.Builder
	switch v := v.(type) {
	case *store.Checkpoint:
		renderCheckpoint(&sb, v)
	case *store.CheckpointTuple:
		renderTuple(&sb, v)
	case []*store.CheckpointTuple:
		for i, t := range v {
			if i > 0 {
				sb.WriteString("\n")
			}
			renderTuple(&sb, t)
		}
	case *saver.FilteredHistory:
		sb.WriteString(styleTitle.Render("thread "+v.ThreadID) + "\n")
		if len(v.Checkpoints) == 0 {
			sb.WriteString(styleMuted.Render("no checkpoints") + "\n")
		}
		for _, cp := range v.Checkpoints {
			fmt.Fprintf(&sb, "%s  %s  %s\n", styleID.Render(cp.ID), formatTime(cp.Timestamp), string(cp.Payload))
		}
	case []recency.Entry:
		for _, e := range v {
			fmt.Fprintf(&sb, "%s  %s  %s\n", styleID.Render(e.ThreadID), e.UserEmail, formatTime(e.Timestamp))
		}
	case deleteOutput:
		sb.WriteString(styleTitle.Render(v.Message) + "\n")
		row(&sb, store.DefaultCheckpointsCollection, fmt.Sprint(v.Checkpoints))
		row(&sb, store.DefaultWritesCollection, fmt.Sprint(v.Writes))
	case store.Scope:
		row(&sb, "thread", v.ThreadID)
		row(&sb, "user", v.UserEmail)
		row(&sb, "checkpoint", styleID.Render(v.CheckpointID))
	default:
		fmt.Fprintf(&sb, "%v\n", v)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func row(sb *strings.Builder, label, value string) {
	sb.WriteString(styleLabel.Render(label) + " " + value + "\n")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func renderCheckpoint(sb *strings.Builder, cp *store.Checkpoint) {
	sb.WriteString(styleTitle.Render("checkpoint "+cp.ID) + "\n")
	row(sb, "thread", cp.ThreadID)
	row(sb, "user", cp.UserEmail)
	row(sb, "ts", formatTime(cp.Timestamp))
	if cp.ParentID != "" {
		row(sb, "parent", cp.ParentID)
	}
	if len(cp.Payload) > 0 {
		row(sb, "payload", string(cp.Payload))
	}
}

func renderTuple(sb *strings.Builder, t *store.CheckpointTuple) {
	renderCheckpoint(sb, t.Checkpoint)
	row(sb, "writes", fmt.Sprint(len(t.PendingWrites)))
	for _, w := range t.PendingWrites {
		sb.WriteString(styleMuted.Render(fmt.Sprintf("  %s[%d] %s = %s", w.TaskID, w.Index, w.Channel, string(w.Value))) + "\n")
	}
}

// deleteOutput is the delete result with its total and message
type deleteOutput struct {
	retention.Result
	Total   int64  `json:"total"`
	Message string `json:"message"`
}
