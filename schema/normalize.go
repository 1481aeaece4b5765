package schema

import (
	"strings"
	"unicode"
)

// NormalizeSpaceName validates and trims a space name.
// Allowed characters: letters, digits, space, '.', '_', '-'.
func NormalizeSpaceName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrInvalidRequest
	}
	for _, r := range trimmed {
		if r == ' ' || r == '.' || r == '_' || r == '-' {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return "", ErrInvalidRequest
	}
	return trimmed, nil
}

// NormalizeCapability validates a capability string.
// Allowed characters: a-z, 0-9, '.', '_', '-'.
func NormalizeCapability(capability Capability) (Capability, error) {
	raw := strings.TrimSpace(strings.ToLower(string(capability)))
	if raw == "" {
		return "", ErrInvalidRequest
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		return "", ErrInvalidRequest
	}
	return Capability(raw), nil
}

// NormalizeURL validates a navigation target. Only a minimal shape check:
// scheme://rest or about: pages. The engine owns real URL semantics.
func NormalizeURL(url string) (string, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return "", ErrInvalidRequest
	}
	if strings.HasPrefix(trimmed, "about:") {
		return trimmed, nil
	}
	if !strings.Contains(trimmed, "://") {
		return "https://" + trimmed, nil
	}
	return trimmed, nil
}
