package schema

import "time"

// Username identifies a player on the server.
type Username string

// SaveLabel is the operator-chosen name of an archived save.
type SaveLabel string

// EventKind is the bracketed tag of a server log line.
type EventKind string

const (
	// KindJoin indicates a player joined the game.
	KindJoin EventKind = "JOIN"
	// KindChat indicates a player chat message.
	KindChat EventKind = "CHAT"
	// KindLeave indicates a player left the game.
	KindLeave EventKind = "LEAVE"
)

// ChatEvent is one structured record decoded from a server output line.
type ChatEvent struct {
	Date     string
	Time     string
	Kind     EventKind
	Username Username
	Message  string
}

// Command is an administrative command extracted from a chat message.
type Command struct {
	Verb string
	Args []string
}

// SaveRecord describes one archived save file.
type SaveRecord struct {
	Path      string
	Label     SaveLabel
	Author    Username
	Timestamp time.Time
}
