package event

import "encoding/json"

// MarshalRun serialises a Run to JSON.
func MarshalRun(r *Run) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRun deserialises a Run from JSON.
func UnmarshalRun(data []byte) (*Run, error) {
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
