package endpoint

import (
	"encoding/json"
	"fmt"
)

func toRecord(e *Endpoint) (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("endpoint: encode record: %w", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("endpoint: encode record: %w", err)
	}
	return rec, nil
}

func fromRecord(rec map[string]any) (*Endpoint, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("endpoint: decode record: %w", err)
	}
	var e Endpoint
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("endpoint: decode record: %w", err)
	}
	return &e, nil
}
