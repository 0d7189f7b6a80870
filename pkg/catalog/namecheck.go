package catalog

import "strings"

// MaxDatasetNameLen is the maximum length of a dataset-qualified
// snapshot name, including the '@' separator.
const MaxDatasetNameLen = 256

// ComponentNameCheck validates a single snapshot component name (the
// part after '@').
//
// Valid components are non-empty, are not "." or "..", and contain only
// alphanumerics and the punctuation characters '-', '_', '.', ':', and
// ' '. Returns an ErrInvalidName error describing the first violation.
func ComponentNameCheck(name string) error {
	if name == "" {
		return InvalidName(name, "empty component")
	}
	if name == "." || name == ".." {
		return InvalidName(name, "self or parent reference")
	}
	if len(name) >= MaxDatasetNameLen {
		return InvalidName(name, "component too long")
	}
	for _, r := range name {
		if !validNameRune(r) {
			return InvalidName(name, "invalid character "+string(r))
		}
	}
	return nil
}

// SnapshotName builds the full dataset-qualified snapshot name
// "dataset@component", validating the component syntax and the overall
// length limit.
func SnapshotName(dataset, component string) (string, error) {
	if err := ComponentNameCheck(component); err != nil {
		return "", err
	}
	full := dataset + "@" + component
	if len(full) >= MaxDatasetNameLen {
		return "", InvalidName(full, "name too long")
	}
	return full, nil
}

// SplitSnapshotName splits a full "dataset@component" name. Returns
// ErrInvalidName when the separator is missing or the name is
// malformed.
func SplitSnapshotName(fullName string) (dataset, component string, err error) {
	i := strings.IndexByte(fullName, '@')
	if i <= 0 || i == len(fullName)-1 {
		return "", "", InvalidName(fullName, "missing @component")
	}
	return fullName[:i], fullName[i+1:], nil
}

func validNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '.' || r == ':' || r == ' ':
		return true
	}
	return false
}
