package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

const appDir = "contextmore"

// xdgDir resolves an XDG base directory: the env variable when set,
// otherwise homeRel under the user's home. It returns "" when neither is
// available.
func xdgDir(env string, homeRel ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(append([]string{home}, homeRel...)...)
}

func defaultDataDir() string {
	base := xdgDir("XDG_DATA_HOME", ".local", "share")
	if base == "" {
		return appDir + "-data"
	}
	return filepath.Join(base, appDir)
}

// ConfigFilePath is the JSON file read by Load and written by SetKey and
// UnsetKey: $XDG_CONFIG_HOME/contextmore/config.json, falling back to
// ~/.config and then the working directory.
func ConfigFilePath() string {
	base := xdgDir("XDG_CONFIG_HOME", ".config")
	if base == "" {
		base = "."
	}
	return filepath.Join(base, appDir, "config.json")
}

// fileBackend keeps persisted keys as one flat JSON object. Numbers are
// decoded as json.Number so integer keys round-trip exactly.
type fileBackend struct {
	path   string
	values map[string]any
}

// newFileBackend reads path. A missing file is an empty config; an
// unreadable or malformed one is reported and ignored.
func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, values: map[string]any{}}
	if err := b.read(); err != nil {
		slog.Warn("ignoring config file", "path", path, "error", err)
	}
	return b
}

func (b *fileBackend) read() error {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	values := map[string]any{}
	if err := dec.Decode(&values); err != nil {
		return fmt.Errorf("parsing: %w", err)
	}
	b.values = values
	return nil
}

// write replaces the file through a temp file in the same directory, so a
// crash never leaves half a config behind.
func (b *fileBackend) write() error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	out, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(out, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Rename(tmp.Name(), b.path)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.values[key]
	if !ok {
		return "", false, nil
	}
	if s, isString := v.(string); isString {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.values[key]
	if !ok {
		return 0, false, nil
	}
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = t
	default:
		return 0, true, fmt.Errorf("%s: expected an integer, got %T", key, v)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	return n, true, nil
}

func (b *fileBackend) SetString(key, val string) error {
	b.values[key] = val
	return b.write()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.values[key] = val
	return b.write()
}

func (b *fileBackend) Delete(key string) error {
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.write()
}
