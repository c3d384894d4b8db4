package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// configFilePermissions is owner read/write only: the file may hold the
// app's client secret.
const configFilePermissions = 0o600

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by CreateDefault when the file already exists.
var ErrConfigExists = errors.New("config: file already exists")

// configTemplate is the config file written by "config init". Every option
// is present as a commented-out default, with the sections uncommented so
// "config set" can insert keys under them.
const configTemplate = `# exact-go configuration

[api]
# base_url = "https://start.exactonline.nl"
# division = 0
# client_id = ""
# client_secret = ""
# redirect_url = "http://localhost:8080/callback"

[network]
# timeout = "30s"
# max_retries = 3
# requests_per_minute = 60
# user_agent = "exact-go/dev"

[rate_limit]
# minutely_header = "x-ratelimit-minutely-remaining"
# daily_header = "x-ratelimit-remaining"

[logging]
# log_level = "info"     # debug, info, warn, error
# log_format = "auto"    # auto, text, json

[mirror]
# database = ""          # default: <data dir>/mirror.db
# workers = 4
# resources = ["accounts", "contacts", "items"]
# interval = "0"         # e.g. "15m" to repeat
`

// CreateDefault writes the commented template to path. It refuses to
// overwrite an existing file.
func CreateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	slog.Info("creating config file", "path", path)

	return atomicWriteFile(path, []byte(configTemplate))
}

// SetKey sets dotted ("api.division") to value in the config file at path,
// creating the file from the template when it does not exist. An existing
// key line in the section is replaced; otherwise the key is inserted after
// the section header, and a missing section is appended. The edit is
// text-level so comments and layout survive, and the result must still load.
func SetKey(path, dotted, value string) error {
	section, key, err := splitDotted(dotted)
	if err != nil {
		return err
	}

	slog.Info("setting config key", "path", path, "key", dotted)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data = []byte(configTemplate)
	} else if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	newLine := fmt.Sprintf("%s = %s", key, formatTOMLValue(value))

	headerLine := findSectionHeader(lines, section)
	if headerLine < 0 {
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}

		lines = append(lines, "", "["+section+"]", newLine, "")
	} else {
		lines = setKeyInSection(lines, headerLine, key, newLine)
	}

	content := []byte(strings.Join(lines, "\n"))

	if err := validateContent(path, content); err != nil {
		return err
	}

	return atomicWriteFile(path, content)
}

// validateContent loads content through a scratch file to make sure an edit
// never leaves an unloadable config behind.
func validateContent(path string, content []byte) error {
	f, err := os.CreateTemp("", "exact-go-config-*.toml")
	if err != nil {
		return fmt.Errorf("creating scratch file: %w", err)
	}

	defer os.Remove(f.Name())

	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("writing scratch file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing scratch file: %w", err)
	}

	if _, err := Load(f.Name()); err != nil {
		return fmt.Errorf("refusing to update %s: %w", path, err)
	}

	return nil
}

// findSectionHeader returns the line index of "[section]", or -1.
func findSectionHeader(lines []string, section string) int {
	header := "[" + section + "]"

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i
		}
	}

	return -1
}

// findSectionEnd returns the index of the next section header after
// headerLine, or len(lines).
func findSectionEnd(lines []string, headerLine int) int {
	for i := headerLine + 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "[") {
			return i
		}
	}

	return len(lines)
}

// setKeyInSection either replaces an existing key line or inserts a new
// one after the section header.
func setKeyInSection(lines []string, headerLine int, key, newLine string) []string {
	sectionEnd := findSectionEnd(lines, headerLine)
	keyPrefix := key + " "
	keyPrefixEq := key + "="

	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, keyPrefix) || strings.HasPrefix(trimmed, keyPrefixEq) {
			lines[i] = newLine

			return lines
		}
	}

	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

// formatTOMLValue formats a value for TOML output. Booleans, integers and
// arrays are written bare; everything else is a quoted string.
func formatTOMLValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}

	if _, err := strconv.Atoi(value); err == nil {
		return value
	}

	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		return value
	}

	return strconv.Quote(value)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. Parent directories are created
// as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
