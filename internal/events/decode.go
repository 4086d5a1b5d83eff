package events

import (
	"encoding/json"

	"github.com/samber/oops"

	"github.com/fadmin-project/fadmin/internal/errutil"
)

// DecodeBatch decodes the JSON array returned by the poll command.
// Events keep their array order. An element that cannot be decoded into
// its variant is returned as Unknown so that the rest of the batch is
// still delivered; only a body that is not a JSON array is an error.
func DecodeBatch(data []byte) ([]Event, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, oops.In("events").
			Code(errutil.CodeCommand).
			With("body", truncate(string(data), 256)).
			Wrapf(err, "poll response is not a JSON array")
	}

	out := make([]Event, 0, len(raw))
	for _, item := range raw {
		out = append(out, Decode(item))
	}
	return out, nil
}

// Decode decodes a single event object.
func Decode(item json.RawMessage) Event {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(item, &head); err != nil {
		return Unknown{Raw: item}
	}

	var (
		ev  Event
		err error
	)
	switch head.Type {
	case KindConnected:
		ev, err = decodeAs[Connected](item)
	case KindDisconnected:
		ev = Disconnected{}
	case KindChat:
		ev, err = decodeAs[Chat](item)
	case KindJoined:
		ev, err = decodeAs[Joined](item)
	case KindLeft:
		ev, err = decodeAs[Left](item)
	case KindDied:
		ev, err = decodeAs[Died](item)
	case KindKicked:
		var m Moderation
		m, err = decodeAs[Moderation](item)
		ev = Kicked{Moderation: m}
	case KindBanned:
		var m Moderation
		m, err = decodeAs[Moderation](item)
		ev = Banned{Moderation: m}
	case KindUnbanned:
		var m Moderation
		m, err = decodeAs[Moderation](item)
		ev = Unbanned{Moderation: m}
	case KindPromoted:
		ev, err = decodeAs[Promoted](item)
	case KindDemoted:
		ev, err = decodeAs[Demoted](item)
	default:
		return Unknown{Type: string(head.Type), Raw: item}
	}

	if err != nil {
		return Unknown{Type: string(head.Type), Raw: item}
	}
	return ev
}

func decodeAs[T any](item json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(item, &v)
	return v, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
