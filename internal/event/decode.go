package event

import (
	"encoding/json"
	"fmt"
)

// Decode parses one SSE frame payload into its typed event.
//
// The name is the SSE "event:" field; data is the raw "data:" JSON.
// Unknown event names decode to an Unknown event rather than failing, so
// the client stays forward-compatible with backend additions. Malformed
// JSON returns an error; callers drop the frame and continue.
func Decode(name string, data []byte) (Event, error) {
	switch Kind(name) {
	case KindNavigation:
		return decodeInto[Navigation](name, data)
	case KindMetadata:
		return decodeInto[Metadata](name, data)
	case KindProgress:
		return decodeInto[Progress](name, data)
	case KindMessageChunk:
		ev, err := decodeInto[MessageChunk](name, data)
		if err != nil {
			return nil, err
		}
		if ev.MessageID == "" {
			return nil, fmt.Errorf("message_chunk event without message_id")
		}
		return ev, nil
	case KindPlanGenerated:
		return decodeInto[PlanGenerated](name, data)
	case KindArtifact:
		return decodeInto[Artifact](name, data)
	case KindSearchResults:
		return decodeInto[SearchResults](name, data)
	case KindAgentOutput:
		return decodeInto[AgentOutput](name, data)
	case KindNodeStart:
		return decodeInto[NodeStart](name, data)
	case KindNodeComplete:
		return decodeInto[NodeComplete](name, data)
	case KindInterrupt:
		ev, err := decodeInto[Interrupt](name, data)
		if err != nil {
			return nil, err
		}
		if ev.MessageID == "" {
			return nil, fmt.Errorf("interrupt event without message_id")
		}
		return ev, nil
	case KindComplete:
		return decodeInto[Complete](name, data)
	case KindError:
		return decodeInto[Error](name, data)
	default:
		// Preserve raw payload for debugging; dispatcher drops with a warning.
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{Name: name, Data: raw}, nil
	}
}

func decodeInto[T Event](name string, data []byte) (T, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("failed to decode %s event: %w", name, err)
	}
	return ev, nil
}
