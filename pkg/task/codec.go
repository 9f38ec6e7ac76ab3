package task

import (
	"encoding/json"
	"fmt"
)

// toRecord/fromRecord bridge between the typed Task struct and the
// opaque map[string]any value storage.Table persists. A JSON round-trip
// keeps this bridge trivial to keep in sync as Task grows fields.
func toRecord(t *Task) (map[string]any, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("task: encode record: %w", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("task: encode record: %w", err)
	}
	return rec, nil
}

func fromRecord(rec map[string]any) (*Task, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("task: decode record: %w", err)
	}
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("task: decode record: %w", err)
	}
	return &t, nil
}
