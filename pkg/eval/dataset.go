package eval

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrDatasetNotFound = errors.New("eval dataset not found")

// Example is one labeled question.
type Example struct {
	Question string `json:"question" yaml:"question"`
	Expected string `json:"expected" yaml:"expected"`
}

// LoadDataset reads a JSON (or, by extension, YAML) list of examples.
func LoadDataset(path string) ([]Example, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, path)
	}
	if err != nil {
		return nil, err
	}

	var examples []Example
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &examples)
	default:
		err = json.Unmarshal(data, &examples)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse eval dataset %s: %w", path, err)
	}

	return examples, nil
}
