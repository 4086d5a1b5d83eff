package bridge

import (
	"fmt"
	"strings"

	"github.com/fadmin-project/fadmin/internal/events"
	"github.com/fadmin-project/fadmin/internal/protocol"
	"github.com/fadmin-project/fadmin/internal/util"
)

// causeTexts holds the death message suffix for each cause class that
// does not depend on the killer.
var causeTexts = map[events.CauseClass]string{
	events.CauseLocomotive: " was squished by a rogue train",
	events.CauseTank:       " was hiding in a tank's blind spot",
	events.CauseCar:        " was involved in a hit and run",
	events.CauseArtillery:  " was mistaken for the enemy",
}

// DeathText returns the message suffix describing how a player died.
func DeathText(ev events.Died) string {
	if ev.Cause == nil {
		return " died of mysterious causes"
	}

	class := ev.Cause.Class()
	if class == events.CauseCharacter {
		if ev.Cause.Player == ev.Name {
			return " lost their will to live"
		}
		return " was brutally murdered by " + ev.Cause.Player
	}
	if text, ok := causeTexts[class]; ok {
		return text
	}
	return " was killed by a " + ev.Cause.Type
}

// Format renders an event as chat text. Events with no chat
// representation return false.
func Format(ev events.Event) (string, bool) {
	switch e := ev.(type) {
	case events.Connected:
		return "*Server is online (" + e.Version + ")*", true
	case events.Disconnected:
		return "*Server is offline*", true
	case events.Chat:
		return e.Name + ": " + e.Message, true
	case events.Joined:
		return "*" + e.Name + " joined*", true
	case events.Left:
		return "*" + e.Name + " left*", true
	case events.Died:
		return "*" + e.Name + DeathText(e) + "*", true
	case events.Kicked:
		return moderationText(e.Moderation, "kicked"), true
	case events.Banned:
		return moderationText(e.Moderation, "banned"), true
	case events.Unbanned:
		return moderationText(e.Moderation, "unbanned"), true
	default:
		return "", false
	}
}

func moderationText(m events.Moderation, action string) string {
	var b strings.Builder
	b.WriteString("*" + m.Name + " was " + action)
	if m.ByPlayer != "" {
		b.WriteString(" by " + m.ByPlayer)
	}
	if m.Reason != "" {
		b.WriteString(": " + m.Reason)
	}
	b.WriteString("*")
	return b.String()
}

// withOnline inserts the online count inside the closing emphasis of a
// join or leave line.
func withOnline(text string, online int) string {
	return strings.TrimSuffix(text, "*") + fmt.Sprintf(" (%d online)*", online)
}

// statusText renders the periodic player list announcement.
func statusText(players []string) string {
	if len(players) == 0 {
		return "*Players online (0)*"
	}
	return fmt.Sprintf("*Players online (%d): %s*", len(players), strings.Join(players, ", "))
}

// EscapeMentions breaks every @ so that the chat platform cannot turn
// game text into a mention.
func EscapeMentions(text string) string {
	return strings.ReplaceAll(text, "@", "@\u200b")
}

var consoleUnsafe = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\x00", "")

// ChatCommand builds the in-game command that prints an inbound chat
// message. Line breaks are folded and NUL bytes dropped so the message
// stays one console line. The result is cut to fit one RCON frame.
func ChatCommand(author, content string) string {
	command := "/fadmin chat " + consoleUnsafe.Replace(author) + "*: " + consoleUnsafe.Replace(content)
	return util.TruncateBytes(command, protocol.MaxCommandSize)
}
