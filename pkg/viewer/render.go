package viewer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/IMBotPlatform/IMBotChat/pkg/transcript"
)

// WriteSessions 输出会话列表。
func WriteSessions(w io.Writer, sessions []SessionView) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions yet.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tMODEL\tTITLE")
	for _, s := range sessions {
		title := s.Title
		if s.Err != nil {
			title = "(unreadable: " + s.Err.Error() + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.When(), s.Model, title)
	}
	return tw.Flush()
}

// WriteTranscript 输出会话记录，每条消息一段。
func WriteTranscript(w io.Writer, t *Transcript) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  [%s]  %s\n", t.Session.ID, t.Session.Model, FormatDetail(t.Session.CreatedAt))
	for _, m := range t.Messages {
		fmt.Fprintf(&b, "\n%s %s\n%s\n", RoleLabel(m.Role), m.When(), m.Content)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// RoleLabel 返回角色的显示名称。
func RoleLabel(r transcript.Role) string {
	switch r {
	case transcript.RoleHuman:
		return "You"
	case transcript.RoleAssistant:
		return "Assistant"
	}
	return string(r)
}
