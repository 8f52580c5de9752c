// Package chatlog decodes Factorio server console output into chat events.
//
// The engine logs player actions as
//
//	2024-01-15 10:00:00 [CHAT] alice: hello there
//
// Everything else the engine prints (map loading, RCON, multiplayer
// diagnostics) does not match the grammar and yields no event.
package chatlog

import (
	"regexp"
	"strings"

	"pkt.systems/factorioctl/schema"
)

var lineRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}) (\d{2}:\d{2}:\d{2}) \[(JOIN|CHAT|LEAVE)\] (\S+) ?(.*)$`)

// Parse decodes one output line. The second return value is false when the
// line does not match the chat grammar; such lines are not an error, they are
// simply not events.
func Parse(line string) (schema.ChatEvent, bool) {
	line = strings.TrimRight(line, "\r\n")
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return schema.ChatEvent{}, false
	}
	username := strings.TrimSuffix(m[4], ":")
	if username == "" {
		return schema.ChatEvent{}, false
	}
	return schema.ChatEvent{
		Date:     m[1],
		Time:     m[2],
		Kind:     schema.EventKind(m[3]),
		Username: schema.Username(username),
		Message:  strings.TrimSpace(m[5]),
	}, true
}

// CommandSigil prefixes chat messages that carry an administrative command.
const CommandSigil = "!!"

// ParseCommand extracts a command from a chat message. Returns false when the
// first token does not start with the sigil.
func ParseCommand(message string) (schema.Command, bool) {
	fields := strings.Fields(message)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], CommandSigil) {
		return schema.Command{}, false
	}
	verb := strings.TrimPrefix(fields[0], CommandSigil)
	if verb == "" {
		return schema.Command{}, false
	}
	args := []string{}
	if len(fields) > 1 {
		args = fields[1:]
	}
	return schema.Command{Verb: verb, Args: args}, true
}
