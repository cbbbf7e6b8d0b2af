package workflow

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/deixis/grader/internal/config"
)

// Submission is one candidate program to grade.
type Submission struct {
	ID     string `json:"id"`
	Source string `json:"source"` // path of the submitted source file
}

// Skipped is a path that could not be turned into a submission.
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Collect turns paths into submissions. A path may be a source file, a
// directory holding the expected source file, or a directory of such
// entries (a turn-in folder). Files in a turn-in folder match when their
// name is the expected source name or ends with "_" followed by it; the
// prefix becomes the submission ID.
func (e *Engine) Collect(paths []string) ([]Submission, []Skipped, error) {
	name := e.Config.SourceName()
	if name == "" {
		return nil, nil, errors.New("no source file name configured")
	}

	var (
		subs    []Submission
		skipped []Skipped
	)
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, nil, fmt.Errorf("reading submission %s: %w", p, err)
		}
		if !info.IsDir() {
			if sub, ok := matchFile(p, name); ok {
				subs = append(subs, sub)
			} else {
				skipped = append(skipped, Skipped{Path: p, Reason: "wrong file name, want " + name})
			}
			continue
		}
		if src := filepath.Join(p, name); isFile(src) {
			subs = append(subs, Submission{ID: filepath.Base(p), Source: src})
			continue
		}
		s, sk, err := discover(p, name)
		if err != nil {
			return nil, nil, err
		}
		subs = append(subs, s...)
		skipped = append(skipped, sk...)
	}
	return subs, skipped, nil
}

func discover(dir, name string) ([]Submission, []Skipped, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var (
		subs    []Submission
		skipped []Skipped
	)
	for _, ent := range entries {
		p := filepath.Join(dir, ent.Name())
		if strings.HasPrefix(ent.Name(), ".") {
			continue
		}
		if ent.IsDir() {
			if src := filepath.Join(p, name); isFile(src) {
				subs = append(subs, Submission{ID: ent.Name(), Source: src})
			} else {
				skipped = append(skipped, Skipped{Path: p, Reason: "no " + name})
			}
			continue
		}
		if sub, ok := matchFile(p, name); ok {
			subs = append(subs, sub)
		} else {
			skipped = append(skipped, Skipped{Path: p, Reason: "wrong file name, want " + name})
		}
	}
	return subs, skipped, nil
}

func matchFile(path, name string) (Submission, bool) {
	base := filepath.Base(path)
	switch {
	case base == name:
		return Submission{ID: filepath.Base(filepath.Dir(path)), Source: path}, true
	case strings.HasSuffix(base, "_"+name):
		return Submission{ID: strings.TrimSuffix(base, "_"+name), Source: path}, true
	}
	return Submission{}, false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// prepare creates a clean build directory for id holding the support files
// and the source under the configured name.
func (e *Engine) prepare(id, source string) (string, error) {
	workRoot := e.Config.WorkDir
	if workRoot == "" {
		workRoot = config.DefaultWorkDir
	}
	dir := filepath.Join(e.path(workRoot), sanitizeID(id))
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("cleaning %s: %w", dir, err)
	}
	if e.Config.Support != "" {
		if err := os.CopyFS(dir, os.DirFS(e.path(e.Config.Support))); err != nil {
			return "", fmt.Errorf("copying support files: %w", err)
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := copyFile(source, filepath.Join(dir, e.Config.SourceName())); err != nil {
		return "", err
	}
	return dir, nil
}

func sanitizeID(id string) string {
	id = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, id)
	if id == "" || id == "." || id == ".." {
		return "_"
	}
	return id
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}
