package store

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Typed inserts re-validate their inputs so a bug upstream cannot land a
// malformed row.

var (
	textRE    = regexp.MustCompile(`^[A-Za-z0-9_./-]{1,128}$`)
	addressRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	hashRE    = regexp.MustCompile(`^[a-f0-9]{64}$`)
)

func validText(value, name string) error {
	if !textRE.MatchString(value) {
		return fmt.Errorf("%s invalid", name)
	}
	return nil
}

func validAddress(value, name string) error {
	if !addressRE.MatchString(value) {
		return fmt.Errorf("%s invalid", name)
	}
	return nil
}

func validHash(value, name string) error {
	if !hashRE.MatchString(value) {
		return fmt.Errorf("%s invalid", name)
	}
	return nil
}

func validNonNegative(value int64, name string) error {
	if value < 0 {
		return fmt.Errorf("%s negative", name)
	}
	return nil
}

func validPositive(value int64, name string) error {
	if value <= 0 {
		return fmt.Errorf("%s out of bounds", name)
	}
	return nil
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(raw), nil
}

func decodeStrings(raw string) []string {
	var out []string
	if raw == "" {
		return []string{}
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []string{}
	}
	return out
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
