package goal

import (
	"encoding/json"
	"fmt"
)

func toRecord(g *Goal) (map[string]any, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("goal: encode record: %w", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("goal: encode record: %w", err)
	}
	return rec, nil
}

func fromRecord(rec map[string]any) (*Goal, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("goal: decode record: %w", err)
	}
	var g Goal
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("goal: decode record: %w", err)
	}
	return &g, nil
}
