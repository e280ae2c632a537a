package objstore

import (
	"fmt"
	"strings"
)

// keySeparator divides the user namespace segment from the file name.
const keySeparator = "/"

// DeriveKey maps a verified user identity and a client-supplied file name to
// the fully qualified storage key "<user>/<filename>". It is the only way keys
// are built, so every object in the store sits under exactly one user's
// namespace and two users can never collide on the same key.
func DeriveKey(user, filename string) (string, error) {
	if err := validateSegment(user); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	if err := validateSegment(filename); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	return user + keySeparator + filename, nil
}

// Prefix returns the listing prefix "<user>/" covering everything in the
// user's namespace.
func Prefix(user string) (string, error) {
	if err := validateSegment(user); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	return user + keySeparator, nil
}

// RelativeName strips the user prefix from a key, returning the name the user
// originally uploaded under. The second return is false when the key does not
// belong to the prefix.
func RelativeName(key, prefix string) (string, bool) {
	return strings.CutPrefix(key, prefix)
}

// validateSegment rejects anything that could escape its namespace segment:
// separators, backslashes, and dot elements.
func validateSegment(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("must not be empty")
	case s == "." || s == "..":
		return fmt.Errorf("must not be a dot element")
	case strings.ContainsAny(s, keySeparator+`\`):
		return fmt.Errorf("must not contain path separators")
	}
	return nil
}
