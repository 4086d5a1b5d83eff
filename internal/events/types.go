// Package events defines the game events relayed by fadmin and the
// dispatcher that fans them out to consumers.
package events

import "encoding/json"

// Kind identifies an event variant. The values match the "type" field
// written by the in-game fadmin mod.
type Kind string

const (
	// Session lifecycle, produced by the bridge itself
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"

	// Player activity
	KindChat   Kind = "chat"
	KindJoined Kind = "joined"
	KindLeft   Kind = "left"
	KindDied   Kind = "died"

	// Moderation
	KindKicked   Kind = "kicked"
	KindBanned   Kind = "banned"
	KindUnbanned Kind = "unbanned"
	KindPromoted Kind = "promoted"
	KindDemoted  Kind = "demoted"

	// Anything this build does not understand
	KindUnknown Kind = "unknown"
)

// Event is one decoded game event. The concrete type is one of the
// variants below.
type Event interface {
	Kind() Kind
}

// Connected is emitted once per successful login.
type Connected struct {
	Version string `json:"version"`
}

// Disconnected is emitted once per lost connection.
type Disconnected struct{}

// Chat is a line typed in the game console.
type Chat struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Joined is emitted when a player connects.
type Joined struct {
	Name string `json:"name"`
}

// Left is emitted when a player disconnects.
type Left struct {
	Name string `json:"name"`
}

// Died is a player death. Cause is nil when the game reported no cause.
type Died struct {
	Name  string `json:"name"`
	Cause *Cause `json:"cause,omitempty"`
}

// Moderation is the payload shared by kick, ban and unban events.
type Moderation struct {
	Name     string `json:"name"`
	ByPlayer string `json:"by_player"`
	Reason   string `json:"reason,omitempty"`
}

// Kicked is emitted when a player is kicked.
type Kicked struct{ Moderation }

// Banned is emitted when a player is banned.
type Banned struct{ Moderation }

// Unbanned is emitted when a ban is lifted.
type Unbanned struct{ Moderation }

// Promoted fires on a player's first join rather than on an actual
// promotion, so consumers ignore it.
type Promoted struct {
	Name string `json:"name"`
}

// Demoted is emitted when admin rights are revoked.
type Demoted struct {
	Name string `json:"name"`
}

// Unknown carries an event whose type is not recognised.
type Unknown struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"raw"`
}

func (Connected) Kind() Kind    { return KindConnected }
func (Disconnected) Kind() Kind { return KindDisconnected }
func (Chat) Kind() Kind         { return KindChat }
func (Joined) Kind() Kind       { return KindJoined }
func (Left) Kind() Kind         { return KindLeft }
func (Died) Kind() Kind         { return KindDied }
func (Kicked) Kind() Kind       { return KindKicked }
func (Banned) Kind() Kind       { return KindBanned }
func (Unbanned) Kind() Kind     { return KindUnbanned }
func (Promoted) Kind() Kind     { return KindPromoted }
func (Demoted) Kind() Kind      { return KindDemoted }
func (Unknown) Kind() Kind      { return KindUnknown }

// Cause describes what killed a player.
type Cause struct {
	Type   string `json:"type"`
	Player string `json:"player,omitempty"`
}

// CauseClass groups entity types that share a death message.
type CauseClass int

const (
	CauseOther CauseClass = iota
	CauseCharacter
	CauseLocomotive
	CauseTank
	CauseCar
	CauseArtillery
)

// causeClasses maps entity prototype names to their class. Older mod
// versions report player kills as "player", newer ones as "character".
var causeClasses = map[string]CauseClass{
	"character":        CauseCharacter,
	"player":           CauseCharacter,
	"locomotive":       CauseLocomotive,
	"tank":             CauseTank,
	"car":              CauseCar,
	"artillery-turret": CauseArtillery,
}

// Class returns the class of the cause's entity type.
func (c Cause) Class() CauseClass {
	if class, ok := causeClasses[c.Type]; ok {
		return class
	}
	return CauseOther
}

// String returns the string representation of CauseClass.
func (c CauseClass) String() string {
	switch c {
	case CauseCharacter:
		return "character"
	case CauseLocomotive:
		return "locomotive"
	case CauseTank:
		return "tank"
	case CauseCar:
		return "car"
	case CauseArtillery:
		return "artillery-turret"
	default:
		return "other"
	}
}
