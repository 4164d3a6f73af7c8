package config

import (
	"fmt"
	"strings"
)

const (
	DelegateORT    = "ort"
	DelegateORTCgo = "ort-cgo"
)

// NormalizeDelegate canonicalizes an engine delegate name. Empty input
// selects DelegateORT.
func NormalizeDelegate(raw string) (string, error) {
	delegate := strings.ToLower(strings.TrimSpace(raw))
	if delegate == "" {
		delegate = DelegateORT
	}
	switch delegate {
	case DelegateORT, DelegateORTCgo:
		return delegate, nil
	case "purego", "cpu":
		return DelegateORT, nil
	case "cgo":
		return DelegateORTCgo, nil
	default:
		return "", fmt.Errorf(
			"invalid delegate %q (expected %s|%s|purego|cgo)",
			raw,
			DelegateORT,
			DelegateORTCgo,
		)
	}
}
