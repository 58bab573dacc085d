package ingress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type discoveryPayload struct {
	Port int `json:"port"`
}

// WritePortFile writes the bound port to path so the extension can
// locate this instance. Written on startup, removed on clean shutdown
// (spec §4.1).
func WritePortFile(path string, port int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create discovery dir: %w", err)
	}
	data, err := json.Marshal(discoveryPayload{Port: port})
	if err != nil {
		return fmt.Errorf("marshal discovery payload: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// RemovePortFile removes the discovery file. Safe to call even if it
// doesn't exist.
func RemovePortFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove discovery file: %w", err)
	}
	return nil
}
