package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// LocalPath returns the path of the local override of a config file,
// "config/tagwatch.json5" becomes "config/tagwatch.local.json5".
func LocalPath(name string) string {
	dirname := filepath.Dir(name)
	ext := filepath.Ext(name)
	prefix := strings.TrimSuffix(filepath.Base(name), ext)
	return filepath.Join(dirname, fmt.Sprintf("%s.local%s", prefix, ext))
}

func readInto[T any](path string, out *T) (bool, error) {
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(strings.TrimSpace(string(contents))) == 0 {
		return false, nil
	}
	err = json5.Unmarshal(contents, out)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// ReadConfig reads a json5 configuration file, this function merges the following
// sources where a higher number takes priority over a lower one.
//
// 1. defaults
// 2. <name>.<ext>
// 3. <name>.local.<ext>
//
// os.ErrNotExist is returned if neither file exists, a zero value in a file
// is indistinguishable from an absent one and falls back to the default.
func ReadConfig[T any](name string, defaults T) (T, error) {
	var out T

	found, err := readInto(name, &out)
	if err != nil {
		return defaults, err
	}

	localPath := LocalPath(name)
	var override T
	foundLocal, err := readInto(localPath, &override)
	if err != nil {
		return defaults, err
	}
	if foundLocal {
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return defaults, err
		}
		slog.Info("merging config with local overrides", "local", localPath)
	}

	if !found && !foundLocal {
		return defaults, os.ErrNotExist
	}

	err = mergo.Merge(&out, defaults)
	if err != nil {
		return defaults, err
	}
	return out, nil
}
