package installation

import (
	"encoding/json"
	"fmt"
)

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRecord, err)
	}
	if err := rec.validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}
