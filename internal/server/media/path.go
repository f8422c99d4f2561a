package media

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/ishlearn/internal/common"
)

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._/-]`)

// SanitizeFilename replaces every character outside [a-zA-Z0-9._/-] with '_'.
func SanitizeFilename(name string) string {
	return unsafePathChars.ReplaceAllString(name, "_")
}

// Normalize derives the storage key "<productID>/<sanitized filename>".
// A filename that is already a key for productID is returned unchanged, so
// Normalize(id, Normalize(id, name)) == Normalize(id, name).
func Normalize(productID, filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("%w: filename is empty", common.ErrorValidation)
	}

	prefix := SanitizeFilename(productID) + "/"
	name := SanitizeFilename(filename)
	if strings.HasPrefix(name, prefix) {
		return name, nil
	}
	return prefix + name, nil
}
