package build

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
)

// HWDBEntry composes the hardware database block for a registered image.
func HWDBEntry(name, globalImageID string) string {
	var builder strings.Builder
	builder.WriteString("[" + name + "]\n")
	builder.WriteString("agfi=" + globalImageID + "\n")
	builder.WriteString("deploytripletoverride=None\n")
	builder.WriteString("customruntimeconfig=None\n")
	return builder.String()
}

// WriteHWDBEntry atomically stores entry as dir/name, creating dir if needed.
func WriteHWDBEntry(dir, name, entry string) (string, error) {
	if err := validateEntryName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create hwdb entry dir: %w", err)
	}
	target := filepath.Join(dir, name)
	if err := renameio.WriteFile(target, []byte(entry), 0o644); err != nil {
		return "", fmt.Errorf("write hwdb entry: %w", err)
	}
	return target, nil
}

// ReadHWDBEntries returns every stored entry keyed by build name, in name order.
func ReadHWDBEntries(dir string) ([]string, map[string]string, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, map[string]string{}, nil
		}
		return nil, nil, err
	}

	names := []string{}
	entries := map[string]string{}
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, dirEntry.Name()))
		if err != nil {
			return nil, nil, err
		}
		names = append(names, dirEntry.Name())
		entries[dirEntry.Name()] = string(data)
	}
	sort.Strings(names)
	return names, entries, nil
}

func validateEntryName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("build name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("build name %q cannot be used as a file name", name)
	}
	return nil
}
