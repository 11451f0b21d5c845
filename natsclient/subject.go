package natsclient

import (
	"fmt"
	"strings"

	"github.com/c360/semlive/errors"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "live"

const (
	presenceSuffix = ".$presence"
	publishSuffix  = ".$publish"
	pushToken      = ".$push"
)

// Subject maps a subscription id (scope/namespace/path) to its NATS subject.
func Subject(prefix, id string) (string, error) {
	tokens := strings.Split(id, "/")
	if len(tokens) < 3 {
		return "", errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrInvalidAddress, id),
			"natsclient", "Subject", "split id")
	}
	for _, tok := range tokens {
		if !validToken(tok) {
			return "", errors.WrapInvalid(fmt.Errorf("%w: token %q in %q", errors.ErrInvalidAddress, tok, id),
				"natsclient", "Subject", "token check")
		}
	}
	return prefix + "." + strings.Join(tokens, "."), nil
}

// PresenceSubject returns the request subject for presence on id.
func PresenceSubject(prefix, id string) (string, error) {
	s, err := Subject(prefix, id)
	if err != nil {
		return "", err
	}
	return s + presenceSuffix, nil
}

// PublishSubject returns the subject client publishes for id go to.
func PublishSubject(prefix, id string) (string, error) {
	s, err := Subject(prefix, id)
	if err != nil {
		return "", err
	}
	return s + publishSuffix, nil
}

// PushSubject returns the server push subject.
func PushSubject(prefix string) string {
	return prefix + pushToken
}

// validToken rejects empty tokens, wildcards, separators and whitespace.
func validToken(tok string) bool {
	if tok == "" || strings.HasPrefix(tok, "$") {
		return false
	}
	return !strings.ContainsAny(tok, ".*> \t\r\n")
}
