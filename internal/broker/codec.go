package broker

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireEnvelope is the canonical, self-describing encoding spec §4.3
// requires every broker message to carry: "includes topic + schema
// version + timestamp".
const schemaVersion = 1

type wireEnvelope struct {
	SchemaVersion int             `json:"schema_version"`
	Subject       string          `json:"subject"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// encode wraps an arbitrary payload in the canonical envelope and
// marshals it to bytes ready for transport.
func encode(subject string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("broker: marshal payload: %w", err)
	}
	env := wireEnvelope{
		SchemaVersion: schemaVersion,
		Subject:       subject,
		Timestamp:     time.Now(),
		Payload:       raw,
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("broker: marshal envelope: %w", err)
	}
	return out, nil
}

// decode unwraps the canonical envelope, returning the raw payload bytes
// and the embedded timestamp.
func decode(data []byte) (payload []byte, ts time.Time, err error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, time.Time{}, fmt.Errorf("broker: unmarshal envelope: %w", err)
	}
	return env.Payload, env.Timestamp, nil
}
