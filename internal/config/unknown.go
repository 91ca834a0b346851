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

// knownKeys lists the valid keys of each config section.
var knownKeys = map[string][]string{
	"queue":   {"db_path", "busy_timeout", "first_temp_id"},
	"remote":  {"base_url", "token_file", "client_id", "token_url", "requests_per_second", "timeout", "max_retries"},
	"network": {"probe_url", "probe_interval", "socket_url", "failure_threshold", "failure_cooldown", "start_online"},
	"logging": {"log_level", "log_file", "log_format"},
}

// knownSections is the sorted list of section names, for deterministic
// suggestions when two candidates have the same edit distance.
var knownSections = func() []string {
	names := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	seen := make(map[string]bool)

	for _, key := range undecoded {
		err := unknownKeyError(md, key)
		if err == nil || seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key. Tables and keys outside any
// section are matched against section names, a key inside a known section
// against that section's keys.
func unknownKeyError(md *toml.MetaData, key toml.Key) error {
	if len(key) == 1 && md.Type(key[0]) == "Hash" {
		return suggest(fmt.Sprintf("unknown config section [%s]", key[0]), key[0], knownSections)
	}

	if len(key) == 1 {
		return suggest(fmt.Sprintf("unknown config key %q", key[0]), key[0], knownSections)
	}

	section, field := key[0], key[1]

	keys, ok := knownKeys[section]
	if !ok {
		return suggest(fmt.Sprintf("unknown config section [%s]", section), section, knownSections)
	}

	return suggest(fmt.Sprintf("unknown config key %q in [%s]", strings.Join(key[1:], "."), section), field, keys)
}

func suggest(msg, unknown string, known []string) error {
	if s := closestMatch(unknown, known); s != "" {
		return fmt.Errorf("%s; did you mean %q?", msg, s)
	}

	return errors.New(msg)
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

// levenshtein computes the edit distance between two strings using a
// single-row table.
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
