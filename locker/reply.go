package locker

import "strings"

// ReplyKind classifies a line received from the board.
type ReplyKind int

const (
	ReplyUnknown ReplyKind = iota
	ReplyAck               // "A", the command was accepted
	ReplyFull              // "F<slot>", door shut with an item inside
	ReplyEmpty             // "E<slot>", door shut with the slot empty
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyAck:
		return "ack"
	case ReplyFull:
		return "full"
	case ReplyEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

type Reply struct {
	Kind ReplyKind
	Slot string
	Raw  string
}

func ParseReply(line string) Reply {
	r := Reply{Raw: line}
	s := strings.TrimSpace(line)
	switch {
	case s == "A":
		r.Kind = ReplyAck
	case len(s) > 1 && s[0] == 'F':
		r.Kind, r.Slot = ReplyFull, strings.TrimSpace(s[1:])
	case len(s) > 1 && s[0] == 'E':
		r.Kind, r.Slot = ReplyEmpty, strings.TrimSpace(s[1:])
	}
	return r
}
