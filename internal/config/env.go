package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
)

// EnvMap converts an os.Environ style slice into a map. Later entries win.
func EnvMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// readConfigFile parses a KEY=value configuration file. Lines of the form
// ". path" or "source path" inline another file before parsing so that
// ${VAR} references resolve across included files.
func readConfigFile(root, path string) (map[string]string, error) {
	var b strings.Builder
	if err := inlineIncludes(root, path, &b, map[string]bool{}); err != nil {
		return nil, err
	}
	values, err := godotenv.Unmarshal(b.String())
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "parse configuration file").
			WithContext("file", path).
			Build()
	}
	return values, nil
}

func inlineIncludes(root, path string, b *strings.Builder, seen map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if seen[abs] {
		return ferrors.ConfigError("configuration include cycle").
			WithContext("file", path).
			Build()
	}
	seen[abs] = true
	defer delete(seen, abs)

	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return ferrors.PreconditionError("configuration file not found").
				WithContext("file", path).
				Build()
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if inc, ok := includeTarget(line); ok {
			inc = strings.ReplaceAll(inc, "${ROOT_DIR}", root)
			inc = strings.ReplaceAll(inc, "$ROOT_DIR", root)
			if !filepath.IsAbs(inc) {
				inc = filepath.Join(root, inc)
			}
			if err := inlineIncludes(root, inc, b, seen); err != nil {
				return err
			}
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return scanner.Err()
}

func includeTarget(line string) (string, bool) {
	t := strings.TrimSpace(line)
	for _, prefix := range []string{". ", "source "} {
		if rest, ok := strings.CutPrefix(t, prefix); ok {
			return strings.Trim(strings.TrimSpace(rest), `"'`), true
		}
	}
	return "", false
}
