package ingress_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/crjfisher/bergamot/internal/ingress"
)

func TestWriteAndRemovePortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "port.json")

	if err := ingress.WritePortFile(path, 5000); err != nil {
		t.Fatalf("WritePortFile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var payload struct {
		Port int `json:"port"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Port != 5000 {
		t.Errorf("port = %d, want 5000", payload.Port)
	}

	if err := ingress.RemovePortFile(path); err != nil {
		t.Fatalf("RemovePortFile() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still exists after RemovePortFile()")
	}

	// Removing again is a no-op.
	if err := ingress.RemovePortFile(path); err != nil {
		t.Errorf("RemovePortFile() on missing file error = %v, want nil", err)
	}
}
