package realtime

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint derives the chat socket URL from the backend base URL: http maps
// to ws, https to wss, and path is appended to the base path.
func Endpoint(baseURL, path string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported backend url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("backend url %q has no host", baseURL)
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + path
	parsed.RawPath = ""

	return parsed.String(), nil
}
