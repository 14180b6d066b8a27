package models

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Backend names reported in Info
const (
	BackendWhisper = "whisper"
	BackendVosk    = "vosk"
)

// ErrModelNotFound is returned by Resolve when no local model matches
var ErrModelNotFound = errors.New("model not found")

// Info describes a model available on local disk
type Info struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Backend   string `json:"backend"`
	SizeBytes int64  `json:"size_bytes"`
}

// DefaultDir returns the directory where models are looked up: ./models in
// the current working directory.
func DefaultDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return filepath.Join(cwd, "models"), nil
}

// List returns the models in dir: whisper ggml .bin files and Vosk model
// directories. A missing dir yields an empty list.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read models directory: %w", err)
	}

	out := []Info{}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, ok := describe(path, entry)
		if ok {
			out = append(out, info)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func describe(path string, entry fs.DirEntry) (Info, bool) {
	if entry.IsDir() {
		if !isVoskDir(path) {
			return Info{}, false
		}
		return Info{
			Name:      entry.Name(),
			Path:      path,
			Backend:   BackendVosk,
			SizeBytes: dirSize(path),
		}, true
	}

	if filepath.Ext(entry.Name()) != ".bin" {
		return Info{}, false
	}
	fi, err := entry.Info()
	if err != nil {
		return Info{}, false
	}
	return Info{
		Name:      strings.TrimSuffix(entry.Name(), ".bin"),
		Path:      path,
		Backend:   BackendWhisper,
		SizeBytes: fi.Size(),
	}, true
}

// isVoskDir reports whether path looks like an unpacked Vosk model: it has
// an am/ or conf/ subdirectory, or the conventional vosk-model- prefix.
func isVoskDir(path string) bool {
	if strings.HasPrefix(filepath.Base(path), "vosk-model-") {
		return true
	}
	for _, sub := range []string{"am", "conf"} {
		if fi, err := os.Stat(filepath.Join(path, sub)); err == nil && fi.IsDir() {
			return true
		}
	}
	return false
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}

// Resolve maps name to a model path. An existing path is returned as is;
// otherwise name is looked up in dir by model name (with or without .bin).
func Resolve(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty model name", ErrModelNotFound)
	}
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}

	available, err := List(dir)
	if err != nil {
		return "", err
	}
	want := strings.TrimSuffix(name, ".bin")
	for _, m := range available {
		if m.Name == want {
			return m.Path, nil
		}
	}
	return "", fmt.Errorf("%w: %s (looked in %s)", ErrModelNotFound, name, dir)
}
