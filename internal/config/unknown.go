package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys maps every section to its valid keys.
var knownKeys = map[string][]string{
	"api":        {"base_url", "division", "client_id", "client_secret", "redirect_url"},
	"network":    {"timeout", "max_retries", "requests_per_minute", "user_agent"},
	"rate_limit": {"minutely_header", "daily_header"},
	"logging":    {"log_level", "log_format"},
	"mirror":     {"database", "workers", "resources", "interval"},
}

// knownSections is the sorted list of section names, sorted for
// deterministic suggestions when two candidates have the same distance.
var knownSections = func() []string {
	s := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		s = append(s, k)
	}

	sort.Strings(s)

	return s
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		err := unknownKeyError(key)
		if err == nil || seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	if len(key) == 0 {
		return nil
	}

	section := key[0]

	keys, ok := knownKeys[section]
	if !ok {
		return suggest("unknown config section", section, knownSections)
	}

	if len(key) == 1 {
		// The section itself is known; only its children can be unknown.
		return nil
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	return suggest(fmt.Sprintf("unknown config key in [%s]", section), key[1], sorted)
}

func suggest(prefix, name string, candidates []string) error {
	if match := closestMatch(name, candidates); match != "" {
		return fmt.Errorf("%s %q (did you mean %q?)", prefix, name, match)
	}

	return fmt.Errorf("%s %q", prefix, name)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// isKnownKey reports whether section.key is a valid config key.
func isKnownKey(section, key string) bool {
	for _, k := range knownKeys[section] {
		if k == key {
			return true
		}
	}

	return false
}

// splitDotted splits "api.division" into its section and key.
func splitDotted(dotted string) (section, key string, err error) {
	section, key, found := strings.Cut(dotted, ".")
	if !found || section == "" || key == "" {
		return "", "", fmt.Errorf("config key %q must have the form section.key", dotted)
	}

	if _, ok := knownKeys[section]; !ok {
		return "", "", suggest("unknown config section", section, knownSections)
	}

	if !isKnownKey(section, key) {
		return "", "", suggest(fmt.Sprintf("unknown config key in [%s]", section), key, knownKeys[section])
	}

	return section, key, nil
}
