// Package locker builds the text commands the locker board understands and
// classifies its replies.
//
// Commands address a slot by the number printed on the door, one or two
// characters. A single character is right-aligned in a two-wide field, so
// slot "7" yields "O 7T".
package locker

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidSlot = errors.New("locker: invalid slot")

// Battery level commands.
const (
	BatteryLow  = "LOW"
	BatteryHigh = "HIGH"
)

// Action is a door operation that targets one slot.
type Action string

const (
	ActionCheckIn  Action = "checkin"
	ActionCheckOut Action = "checkout"
	ActionOpen     Action = "door"
	ActionEmpty    Action = "empty"
)

var formats = map[Action]string{
	ActionCheckIn:  "O%2sT",
	ActionCheckOut: "O%2sR",
	ActionOpen:     "D%2s",
	ActionEmpty:    "E%2s",
}

// Command returns the command text for action on slot.
func Command(action Action, slot string) (string, error) {
	f, ok := formats[action]
	if !ok {
		return "", fmt.Errorf("locker: unknown action %q", action)
	}
	if err := ValidSlot(slot); err != nil {
		return "", err
	}
	return strings.TrimSpace(fmt.Sprintf(f, slot)), nil
}

// ValidSlot reports whether slot can be placed in a command.
func ValidSlot(slot string) error {
	if len(slot) == 0 || len(slot) > 2 {
		return fmt.Errorf("%w: %q must be 1 or 2 characters", ErrInvalidSlot, slot)
	}
	for i := 0; i < len(slot); i++ {
		if c := slot[i]; c <= ' ' || c > '~' {
			return fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
		}
	}
	return nil
}

// CheckIn opens slot for a deposit; the board reports F or E once the
// door is shut again.
func CheckIn(slot string) (string, error) { return Command(ActionCheckIn, slot) }

// CheckOut opens slot for a pickup.
func CheckOut(slot string) (string, error) { return Command(ActionCheckOut, slot) }

// OpenDoor releases the door of slot without a transaction.
func OpenDoor(slot string) (string, error) { return Command(ActionOpen, slot) }

// MarkEmpty records slot as empty.
func MarkEmpty(slot string) (string, error) { return Command(ActionEmpty, slot) }

// Battery returns the battery report command.
func Battery(low bool) string {
	if low {
		return BatteryLow
	}
	return BatteryHigh
}
