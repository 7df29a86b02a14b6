package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ahrav/go-t2ieval/internal/domain"
)

// LoadDataset reads dataset items from a JSON array file, or from one JSON
// object per line when the file ends in ".jsonl". Every item is validated;
// duplicate ids are rejected since progress is keyed by id.
func LoadDataset(path string) ([]*domain.DatasetItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	var items []*domain.DatasetItem
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		sc := bufio.NewScanner(bytes.NewReader(raw))
		sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
		for n := 1; sc.Scan(); n++ {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var item domain.DatasetItem
			if err := json.Unmarshal(line, &item); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, n, err)
			}
			items = append(items, &item)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read dataset: %w", err)
		}
	} else if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", path, err)
	}

	seen := make(map[domain.ItemID]bool, len(items))
	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("%w: item %d is null", domain.ErrInvalidDatasetItem, i)
		}
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if seen[item.ID] {
			return nil, fmt.Errorf("%w: duplicate id %s", domain.ErrInvalidDatasetItem, item.ID)
		}
		seen[item.ID] = true
	}
	return items, nil
}
