package ui

import (
	"fmt"
	"strings"

	"github.com/76creates/stickers/flexbox"
	"github.com/charmbracelet/lipgloss"

	"github.com/aeolun/ripplechat/pkg/client"
	"github.com/aeolun/ripplechat/pkg/protocol"
	"github.com/aeolun/ripplechat/pkg/session"
)

// View renders the current model state
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	header := m.renderHeader()
	input := InputStyle.Width(max(0, m.width-2)).Render(m.input.View())
	footer := renderFooter(m.width, m.errorMessage)

	bodyHeight := max(1, m.height-headerHeight-footerHeight-inputHeight)
	layout := flexbox.NewHorizontal(m.width, bodyHeight)

	// Column 1: roster (ratioX=1 = 25% of width)
	rosterCol := layout.NewColumn().AddCells(
		flexbox.NewCell(1, 1).
			SetStyle(RosterPaneStyle).
			SetContent(renderRoster(m.snapshot.Users, m.reducer.Username())),
	)

	// Column 2: message feed (ratioX=3 = 75% of width)
	feedCol := layout.NewColumn().AddCells(
		flexbox.NewCell(3, 1).
			SetStyle(FeedPaneStyle).
			SetContent(m.feed.View()),
	)

	layout.AddColumns([]*flexbox.Column{rosterCol, feedCol})

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		layout.Render(),
		input,
		footer,
	)
}

func (m Model) renderHeader() string {
	left := HeaderStyle.Render("Ripplechat")

	status := statusText(m.connState, m.reconnectAttempt, m.reducer.Username(), len(m.snapshot.Users))
	if m.connState == client.StateConnecting && !m.shutdown {
		status = m.spinner.View() + " " + status
	}
	right := StatusStyle.Render(status)

	spacer := strings.Repeat(" ", max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)))
	return left + spacer + right
}

// statusText describes the connection for the header
func statusText(state client.State, attempt int, username string, online int) string {
	switch state {
	case client.StateConnecting:
		if attempt > 0 {
			return fmt.Sprintf("Reconnecting (attempt %d)", attempt)
		}
		return "Connecting..."
	case client.StateOpen:
		return fmt.Sprintf("Connected as %s  %d online", username, online)
	case client.StateClosing:
		return "Disconnecting..."
	case client.StateClosed:
		return "Disconnected"
	case client.StateErrored:
		return "Connection lost"
	default:
		return state.String()
	}
}

func renderFooter(width int, errorMessage string) string {
	content := RenderShortcut("Enter", "Send") + "  " +
		RenderShortcut("PgUp/PgDn", "Scroll") + "  " +
		RenderShortcut("Esc", "Quit")

	if errorMessage != "" {
		content += "  " + RenderError(errorMessage)
	}

	return FooterStyle.MaxWidth(width).Render(content)
}

// renderRoster lists the online users in roster order
func renderRoster(users []session.UserProfile, self string) string {
	lines := []string{
		RosterTitleStyle.Render(fmt.Sprintf("Online (%d)", len(users))),
		"",
	}

	if len(users) == 0 {
		lines = append(lines, MutedTextStyle.Render("Nobody yet"))
	}

	for _, u := range users {
		if u.Name == self {
			lines = append(lines, RosterSelfStyle.Render("● "+u.Name+" (you)"))
			continue
		}
		lines = append(lines, "● "+u.Name)
	}

	return strings.Join(lines, "\n")
}

// renderFeed renders the message history, oldest first
func renderFeed(snapshot session.Snapshot, self string, showImages bool, width int) string {
	if len(snapshot.Messages) == 0 {
		return MutedTextStyle.Render("No messages yet. Type below and press Enter.")
	}

	blocks := make([]string, 0, len(snapshot.Messages))
	for _, p := range snapshot.Messages {
		_, err := snapshot.Avatar(p.From)
		blocks = append(blocks, renderMessage(p, self, err == nil, showImages, width))
	}
	return strings.Join(blocks, "\n")
}

// renderMessage renders one message. Senders missing from the roster are
// marked rather than dropped.
func renderMessage(p protocol.ChatPayload, self string, known, showImages bool, width int) string {
	var author string
	switch {
	case p.From == self:
		author = MessageOwnAuthorStyle.Render(p.From)
	case !known:
		author = MessageUnknownAuthorStyle.Render(p.From + " (?)")
	default:
		author = MessageAuthorStyle.Render(p.From)
	}

	if p.IsImage() && showImages {
		return author + " " + ImageStyle.Render("🖼 "+p.Message)
	}

	style := MessageContentStyle
	if p.From != self && mentions(p.Message, self) {
		style = MessageMentionStyle
	}

	lines := wrapText(p.Message, width-lipgloss.Width(author)-1)
	indent := strings.Repeat(" ", lipgloss.Width(author)+1)
	for i, line := range lines {
		lines[i] = style.Render(line)
		if i > 0 {
			lines[i] = indent + lines[i]
		}
	}
	return author + " " + strings.Join(lines, "\n")
}

// wrapText wraps text to fit within the specified width
func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}

	currentLine := ""
	for _, word := range words {
		// Words longer than the width overflow on their own line
		if lipgloss.Width(word) > width {
			if currentLine != "" {
				lines = append(lines, currentLine)
				currentLine = ""
			}
			lines = append(lines, word)
			continue
		}

		testLine := currentLine
		if testLine != "" {
			testLine += " "
		}
		testLine += word

		if lipgloss.Width(testLine) > width {
			if currentLine != "" {
				lines = append(lines, currentLine)
			}
			currentLine = word
		} else {
			currentLine = testLine
		}
	}

	if currentLine != "" {
		lines = append(lines, currentLine)
	}

	return lines
}
