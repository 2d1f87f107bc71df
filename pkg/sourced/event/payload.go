package event

import (
	"encoding/json"
	"fmt"
)

// PayloadAs extracts the envelope payload as T.
//
// Fresh envelopes carry their payload as the concrete type and are returned
// as is. Envelopes replayed from a durable store carry raw JSON or a generic
// map instead; those are decoded into T. Handlers that run on both paths
// should use this instead of a type assertion.
func PayloadAs[T any](env Envelope) (T, error) {
	var out T
	switch p := env.Payload.(type) {
	case T:
		return p, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &out); err != nil {
			return out, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		return out, nil
	case []byte:
		if err := json.Unmarshal(p, &out); err != nil {
			return out, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		return out, nil
	default:
		data, err := json.Marshal(env.Payload)
		if err != nil {
			return out, fmt.Errorf("encode %s payload: %w", env.EventType, err)
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return out, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		return out, nil
	}
}
