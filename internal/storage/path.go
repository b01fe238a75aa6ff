package storage

import (
	"fmt"
	"path"
	"regexp"
)

var hashPattern = regexp.MustCompile(`^[a-f0-9]{16,128}$`)

// BuildResultPath returns the object key for a cached result set.
func BuildResultPath(siteID int64, hash string) (string, error) {
	if err := validateHash(hash); err != nil {
		return "", err
	}
	if siteID <= 0 {
		return "", fmt.Errorf("site id must be positive")
	}
	return path.Join("results", fmt.Sprintf("%d", siteID), hash+".json"), nil
}

// BuildPlanPath returns the object key for a cached execution-plan artifact.
func BuildPlanPath(siteID int64, hash string) (string, error) {
	if err := validateHash(hash); err != nil {
		return "", err
	}
	if siteID <= 0 {
		return "", fmt.Errorf("site id must be positive")
	}
	return path.Join("plans", fmt.Sprintf("%d", siteID), hash+".json"), nil
}

func validateHash(hash string) error {
	if !hashPattern.MatchString(hash) {
		return fmt.Errorf("invalid query hash: %q", hash)
	}
	return nil
}
