package drift

import (
	"fmt"
	"strings"
)

// SplitFullName splits an "owner/name" repository reference.
func SplitFullName(fullName string) (owner string, name string, err error) {
	parts := strings.Split(strings.TrimSpace(fullName), "/")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRepoName, fullName)
	}
	return parts[0], parts[1], nil
}
