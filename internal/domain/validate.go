package domain

import (
	"fmt"
	"net/url"
	"strings"
)

const maxDownloadURLLength = 2048

// ValidateDownloadURL checks user-supplied download sources before they are
// handed to aria2. Magnet links pass as-is; everything else must be a
// well-formed HTTP/HTTPS URL with a host.
func ValidateDownloadURL(raw string) error {
	if len(raw) > maxDownloadURLLength {
		return fmt.Errorf("url too long (max %d characters)", maxDownloadURLLength)
	}

	if strings.HasPrefix(raw, "magnet:") {
		return nil
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		scheme := parsed.Scheme
		if scheme == "" {
			scheme = "none"
		}
		return fmt.Errorf("unsupported scheme %q: only http, https and magnet links are accepted", scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}
