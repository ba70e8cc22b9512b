package drift

import (
	"path/filepath"
	"strings"
)

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// nonCodeExtensions lists lowercase extensions treated as documentation or
// assets rather than code.
var nonCodeExtensions = map[string]struct{}{
	".md":   {},
	".txt":  {},
	".rst":  {},
	".pdf":  {},
	".doc":  {},
	".docx": {},
	".jpg":  {},
	".png":  {},
	".gif":  {},
	".svg":  {},
}

// ChangeTypeFromStatus maps a single-letter git name-status code to a change
// type. Unrecognized codes (renames, copies, type changes) fall back to
// modified rather than failing the extraction.
func ChangeTypeFromStatus(status string) ChangeType {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "A":
		return ChangeAdded
	case "D":
		return ChangeDeleted
	case "M":
		return ChangeModified
	default:
		return ChangeModified
	}
}

// IsCodePath reports whether a changed path counts as code for drift
// purposes. Anything outside the non-code extension deny-list is code.
func IsCodePath(path string) bool {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(path)))
	if ext == "" {
		return true
	}
	_, nonCode := nonCodeExtensions[ext]
	return !nonCode
}

// ParsedChange is one valid line of a name-status diff.
type ParsedChange struct {
	Path   string
	Type   ChangeType
	IsCode bool
}

// ParseNameStatusLine parses a `<status>\t<path>` diff line. Blank lines and
// lines with fewer than two tab-separated fields are skipped (ok=false).
func ParseNameStatusLine(line string) (ParsedChange, bool) {
	if strings.TrimSpace(line) == "" {
		return ParsedChange{}, false
	}

	fields := strings.Split(line, "\t")
	if len(fields) < 2 {
		return ParsedChange{}, false
	}

	path := strings.TrimSpace(fields[len(fields)-1])
	if path == "" {
		return ParsedChange{}, false
	}

	return ParsedChange{
		Path:   path,
		Type:   ChangeTypeFromStatus(fields[0]),
		IsCode: IsCodePath(path),
	}, true
}
