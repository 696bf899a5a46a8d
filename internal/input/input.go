// Package input reads pre-extracted batch files. Warehouse acquisition is an
// external concern; by the time this runs, leads and conversations are plain
// JSON on disk.
package input

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hablara/leadscope/internal/model"
)

// Load reads a batch file: {"leads": [...], "conversations": [...]}.
func Load(path string) (*model.Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}

	var batch model.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}

	if len(batch.Leads) == 0 {
		return nil, fmt.Errorf("batch file %s contains no leads", path)
	}
	seen := make(map[string]bool, len(batch.Leads))
	for i, lead := range batch.Leads {
		if lead.Phone == "" {
			return nil, fmt.Errorf("lead %d has an empty phone", i)
		}
		if seen[lead.Phone] {
			return nil, fmt.Errorf("duplicate lead phone %q", lead.Phone)
		}
		seen[lead.Phone] = true
	}
	for i, conv := range batch.Conversations {
		if conv.Phone == "" {
			return nil, fmt.Errorf("conversation %d has an empty phone", i)
		}
	}

	return &batch, nil
}
