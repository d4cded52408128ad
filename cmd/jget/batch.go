package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// batchEntry is one line of a download list file.
type batchEntry struct {
	URL string `yaml:"url"`
	Dir string `yaml:"dir"`
}

func readBatchFile(path string) ([]batchEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read list file: %w", err)
	}
	var entries []batchEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse list file: %w", err)
	}
	for i, entry := range entries {
		if entry.URL == "" {
			return nil, fmt.Errorf("missing url for entry %d", i+1)
		}
	}
	logger.Debugf("%d entries loaded from %s", len(entries), path)
	return entries, nil
}
