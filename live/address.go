package live

import (
	"fmt"
	"strings"

	"github.com/c360/semlive/errors"
)

// Address identifies a channel. Its text form scope/namespace/path is the
// registry key and the transport subscription id.
type Address struct {
	Scope     string `json:"scope"`
	Namespace string `json:"namespace"`
	Path      string `json:"path"`
}

// ParseAddress splits s on its first two slashes. The path may contain further
// slashes.
func ParseAddress(s string) (Address, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Address{}, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrInvalidAddress, s),
			"live", "ParseAddress", "address split")
	}
	return Address{Scope: parts[0], Namespace: parts[1], Path: parts[2]}, nil
}

// String returns scope/namespace/path.
func (a Address) String() string {
	return a.Scope + "/" + a.Namespace + "/" + a.Path
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool {
	return a == Address{}
}
