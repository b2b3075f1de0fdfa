package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gateway-control-plane/internal/model"
)

const maxKeyNameLength = 200

// KeyName trims name and rejects it when nothing is left.
func KeyName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("name is required")
	}
	if len(name) > maxKeyNameLength {
		return "", fmt.Errorf("name must be at most %d characters", maxKeyNameLength)
	}
	return name, nil
}

// WebhookURL checks that raw is an absolute http(s) URL with a host and no
// embedded credentials, and returns it trimmed.
func WebhookURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is required")
	}

	parsed, err := url.Parse(raw)
	if err != nil || !parsed.IsAbs() {
		return "", fmt.Errorf("url must be an absolute URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("url scheme must be http or https")
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("url host is required")
	}
	if parsed.User != nil {
		return "", fmt.Errorf("url must not include credentials")
	}

	return raw, nil
}

// EventTypes validates a subscription filter. Duplicates are collapsed and the
// first-seen order is kept.
func EventTypes(events []string) ([]string, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("events cannot be empty")
	}

	seen := make(map[string]struct{}, len(events))
	out := make([]string, 0, len(events))
	for _, event := range events {
		event = strings.TrimSpace(event)
		if !IsSubscribableEvent(event) {
			return nil, fmt.Errorf("event %q is not supported", event)
		}
		if _, exists := seen[event]; exists {
			continue
		}
		seen[event] = struct{}{}
		out = append(out, event)
	}

	return out, nil
}

// IsSubscribableEvent reports whether event is a known, subscribable type.
func IsSubscribableEvent(event string) bool {
	for _, e := range model.SubscribableEvents() {
		if e == event {
			return true
		}
	}
	return false
}
