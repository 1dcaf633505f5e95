package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys maps each config section to the keys valid inside it.
var knownKeys = map[string][]string{
	"auth":    {"client_id", "client_secret", "token_file"},
	"network": {"timeout", "user_agent", "max_retries", "base_url", "upload_url"},
	"logging": {"log_level", "log_format"},
	"changes": {"poll_interval", "state_db"},
	"metrics": {"listen_addr"},
}

// knownSections is sorted for deterministic suggestions when two candidates
// have the same edit distance.
var knownSections = slices.Sorted(maps.Keys(knownKeys))

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	badSections := make(map[string]bool)

	for _, key := range md.Undecoded() {
		section := key[0]

		if _, ok := knownKeys[section]; !ok {
			// Reported once for the section, not for each key inside it.
			if !badSections[section] {
				badSections[section] = true

				errs = append(errs, unknownSectionError(section, md.Type(section)))
			}

			continue
		}

		if len(key) == 2 { //nolint:mnd // section.field
			errs = append(errs, unknownFieldError(section, key[1]))
		}
	}

	return errors.Join(errs...)
}

func unknownSectionError(section, tomlType string) error {
	if suggestion := closestMatch(section, knownSections); suggestion != "" {
		return fmt.Errorf("unknown config section %q, did you mean %q?", section, suggestion)
	}

	if tomlType != "Hash" {
		return fmt.Errorf("unknown config key %q: settings belong in a section", section)
	}

	return fmt.Errorf("unknown config section %q", section)
}

func unknownFieldError(section, field string) error {
	name := section + "." + field

	keys := slices.Sorted(slices.Values(knownKeys[section]))
	if suggestion := closestMatch(field, keys); suggestion != "" {
		return fmt.Errorf("unknown config key %q, did you mean %q?", name, section+"."+suggestion)
	}

	return fmt.Errorf("unknown config key %q", name)
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

	// Single-row optimization: two rows instead of a full matrix.
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
