package shipper

import (
	"encoding/json"
	"fmt"

	"github.com/appars/gpc-digitaltwin/agent/internal/sim"
)

// encode renders p in the ingestion wire format: {"oper": {...}, "health": {...}}.
func encode(p sim.Payload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("shipper: encode payload: %w", err)
	}
	return body, nil
}
