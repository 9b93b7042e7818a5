package dto

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Room actions arrive as a discriminated union on the "action" field and are
// parsed exactly once, here, into a typed command before any business code
// sees them.

type CreateCommand struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Options       []string `json:"options"`
	DurationHours int      `json:"duration_hours"`
}

type VoteCommand struct {
	ProposalID uuid.UUID `json:"proposal_id"`
	OptionID   uuid.UUID `json:"option_id"`
}

type CloseCommand struct {
	ProposalID uuid.UUID `json:"proposal_id"`
}

type TypingCommand struct{}

type PresenceCommand struct{}

type LeaveCommand struct{}

type BroadcastCommand struct {
	Content string `json:"content"`
	Persona string `json:"persona"`
}

type envelope struct {
	Action string `json:"action"`
}

// ParseAction decodes a room action payload into one of the command types
// above. Unknown or malformed actions fail here with a descriptive error.
func ParseAction(raw []byte) (interface{}, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed action payload: %w", err)
	}

	switch env.Action {
	case "create":
		var cmd CreateCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, fmt.Errorf("malformed create action: %w", err)
		}
		if cmd.Title == "" {
			return nil, fmt.Errorf("create action requires a title")
		}
		if len(cmd.Options) < 2 {
			return nil, fmt.Errorf("create action requires at least two options")
		}
		return cmd, nil
	case "vote":
		var cmd VoteCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, fmt.Errorf("malformed vote action: %w", err)
		}
		if cmd.ProposalID == uuid.Nil || cmd.OptionID == uuid.Nil {
			return nil, fmt.Errorf("vote action requires proposal_id and option_id")
		}
		return cmd, nil
	case "close":
		var cmd CloseCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, fmt.Errorf("malformed close action: %w", err)
		}
		if cmd.ProposalID == uuid.Nil {
			return nil, fmt.Errorf("close action requires proposal_id")
		}
		return cmd, nil
	case "typing":
		return TypingCommand{}, nil
	case "presence":
		return PresenceCommand{}, nil
	case "leave":
		return LeaveCommand{}, nil
	case "broadcast":
		var cmd BroadcastCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, fmt.Errorf("malformed broadcast action: %w", err)
		}
		if cmd.Content == "" {
			return nil, fmt.Errorf("broadcast action requires content")
		}
		return cmd, nil
	case "":
		return nil, fmt.Errorf("action field is required")
	default:
		return nil, fmt.Errorf("unknown action %q", env.Action)
	}
}
