package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CompileFileName is the artifact written for a run that failed to compile.
const CompileFileName = "compile.txt"

// DiskStore writes each RunResult as <id>.json and its artifacts under <id>/.
// With no directory configured, a temp directory is created lazily.
type DiskStore struct {
	mu  sync.Mutex
	dir string
}

// NewDiskStore creates a new DiskStore rooted at dir. An empty dir means a
// fresh temp directory, created on the first Save.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// Save writes a RunResult and its artifacts to disk.
func (s *DiskStore) Save(result *RunResult) error {
	dir, err := s.ensureDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling result %s: %w", result.ID, err)
	}

	runDir := filepath.Join(dir, result.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("creating run directory %s: %w", result.ID, err)
	}
	for _, a := range artifacts(result) {
		if err := os.WriteFile(filepath.Join(runDir, a.Name), []byte(a.Artifact), 0o644); err != nil {
			return fmt.Errorf("writing artifact %s: %w", a.Name, err)
		}
	}
	if result.Compile != nil {
		if err := os.WriteFile(filepath.Join(runDir, CompileFileName), []byte(result.Compile.Output), 0o644); err != nil {
			return fmt.Errorf("writing compile output: %w", err)
		}
	}

	path := filepath.Join(dir, result.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing result %s: %w", result.ID, err)
	}
	return nil
}

// Load reads a RunResult and its artifacts from disk.
func (s *DiskStore) Load(runID string) (*RunResult, error) {
	dir, err := s.ensureDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, filepath.Base(runID)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading result %s: %w", runID, err)
	}
	var result RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshalling result %s: %w", runID, err)
	}
	for _, a := range artifacts(&result) {
		content, err := os.ReadFile(filepath.Join(dir, result.ID, a.Name))
		if err != nil {
			return nil, fmt.Errorf("reading artifact %s: %w", a.Name, err)
		}
		a.Artifact = string(content)
	}
	return &result, nil
}

// ArtifactPath returns where the named artifact of a run is stored.
func (s *DiskStore) ArtifactPath(runID, name string) (string, error) {
	dir, err := s.ensureDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, runID, name), nil
}

// Dir returns the store's directory, creating it if needed.
func (s *DiskStore) Dir() (string, error) {
	return s.ensureDir()
}

func (s *DiskStore) ensureDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return "", fmt.Errorf("creating result directory: %w", err)
		}
		return s.dir, nil
	}
	dir, err := os.MkdirTemp("", "grader-runs-*")
	if err != nil {
		return "", fmt.Errorf("creating result directory: %w", err)
	}
	s.dir = dir
	return dir, nil
}
