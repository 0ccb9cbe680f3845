// Package channel defines Conduit channel naming rules: which names are valid
// and which prefixes mark a channel as protected.
package channel

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	PrivatePrefix  = "private-"
	PresencePrefix = "presence-"
)

// the node rejects anything longer
const maxNameLength = 164

var validName = regexp.MustCompile(`^[a-zA-Z0-9_\-=@,.;]+$`)

type Channel struct {
	name string
}

func New(name string) (*Channel, error) {
	if name == "" {
		return nil, fmt.Errorf("channel name cannot be empty")
	}

	if len(name) > maxNameLength {
		return nil, fmt.Errorf("channel name exceeds %d characters: %s", maxNameLength, name)
	}

	if !validName.MatchString(name) {
		return nil, fmt.Errorf("channel name contains illegal characters: %s", name)
	}

	return &Channel{name: name}, nil
}

func (c *Channel) Name() string {
	return c.name
}

func (c *Channel) IsPrivate() bool {
	return strings.HasPrefix(c.name, PrivatePrefix)
}

func (c *Channel) IsPresence() bool {
	return strings.HasPrefix(c.name, PresencePrefix)
}

func (c *Channel) RequiresAuthorization() bool {
	return RequiresAuthorization(c.name)
}

// RequiresAuthorization reports whether subscribing to the named channel needs
// an authorization grant first
func RequiresAuthorization(name string) bool {
	return strings.HasPrefix(name, PrivatePrefix) || strings.HasPrefix(name, PresencePrefix)
}
