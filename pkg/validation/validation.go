package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// NameRegex validates controller names and token subjects
	NameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

	// SurfaceIDRegex validates surface ids declared in configuration
	SurfaceIDRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)
)

// ValidateSubject validates a token subject
func ValidateSubject(subject string) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("subject is required")
	}
	if len(subject) > 64 {
		return fmt.Errorf("subject is too long (max 64 characters)")
	}
	if !NameRegex.MatchString(subject) {
		return fmt.Errorf("subject contains invalid characters (only letters, numbers, _, -, . allowed)")
	}
	return nil
}

// ValidateControllerName validates a controller name. Empty is allowed and
// means unnamed.
func ValidateControllerName(name string) error {
	if name == "" {
		return nil
	}
	if len(name) > 64 {
		return fmt.Errorf("controller name is too long (max 64 characters)")
	}
	if !NameRegex.MatchString(name) {
		return fmt.Errorf("controller name contains invalid characters")
	}
	return nil
}

// ValidateSurfaceID validates a declared surface id
func ValidateSurfaceID(id string) error {
	if id == "" {
		return fmt.Errorf("surface id is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("surface id is too long (max 100 characters)")
	}
	if !SurfaceIDRegex.MatchString(id) {
		return fmt.Errorf("invalid surface id format")
	}
	return nil
}

// ValidateSelector checks a render selector for size and printable text. The
// selector grammar itself is up to the resolver.
func ValidateSelector(selector string) error {
	if strings.TrimSpace(selector) == "" {
		return fmt.Errorf("selector is required")
	}
	if len(selector) > 512 {
		return fmt.Errorf("selector is too long (max 512 characters)")
	}
	if !utf8.ValidString(selector) {
		return fmt.Errorf("selector contains invalid characters")
	}
	for _, r := range selector {
		if unicode.IsControl(r) {
			return fmt.Errorf("selector contains control characters")
		}
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateFrameRate validates a requested frame rate; 0 leaves it to the device
func ValidateFrameRate(fps float64) error {
	if fps < 0 {
		return fmt.Errorf("frame rate must be >= 0")
	}
	if fps > 240 {
		return fmt.Errorf("frame rate is too high (max 240)")
	}
	return nil
}

// ValidateDimension validates a requested width or height; 0 leaves it to the device
func ValidateDimension(px int, fieldName string) error {
	if px < 0 {
		return fmt.Errorf("%s must be >= 0", fieldName)
	}
	if px > 7680 {
		return fmt.Errorf("%s is too large (max 7680)", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
