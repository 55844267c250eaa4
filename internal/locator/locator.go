// Package locator resolves the heterogeneous conference identifiers users
// paste into the client: full URLs, custom-scheme links, bare host/room
// pairs, or a plain room name.
package locator

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/venrik/meetwire/internal/domain"
)

// DefaultServerURL is used when the identifier is a bare room name.
const DefaultServerURL = "https://meet.jit.si"

const customScheme = "jitsi-meet://"

var roomNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Location is a resolved conference identifier.
type Location struct {
	ServerURL string
	RoomName  domain.RoomName
}

// Resolve splits a conference identifier into server URL and room name.
// Accepted forms:
//
//	https://meet.example.com/Room1
//	meet.example.com/Room1
//	jitsi-meet://meet.example.com/Room1
//	Room1                            (default server)
//
// The room name must be alphanumeric plus '-' and '_'.
func Resolve(raw string) (Location, *domain.Error) {
	return ResolveWithDefault(raw, DefaultServerURL)
}

// ResolveWithDefault is Resolve with a configurable server for bare room
// names.
func ResolveWithDefault(raw, defaultServer string) (Location, *domain.Error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		return Location{}, domain.NewError(domain.KindInvalidIdentifier, "empty conference identifier", "")
	}

	if strings.HasPrefix(normalized, customScheme) {
		normalized = "https://" + normalized[len(customScheme):]
	} else if !strings.HasPrefix(normalized, "http://") && !strings.HasPrefix(normalized, "https://") {
		if !strings.Contains(normalized, "/") {
			// Bare room name, default server.
			return checkedLocation(defaultServer, normalized, raw)
		}
		normalized = "https://" + normalized
	}

	u, err := url.Parse(normalized)
	if err != nil || u.Host == "" {
		return Location{}, domain.NewError(domain.KindInvalidIdentifier, "unparsable conference identifier", raw)
	}

	server := u.Scheme + "://" + u.Host

	room := strings.TrimPrefix(u.Path, "/")
	if room == "" {
		return Location{}, domain.NewError(domain.KindInvalidIdentifier, "missing room segment", raw)
	}

	return checkedLocation(server, room, raw)
}

func checkedLocation(server, room, raw string) (Location, *domain.Error) {
	if !roomNameRe.MatchString(room) {
		return Location{}, domain.NewError(domain.KindInvalidIdentifier, "room name contains invalid characters", raw)
	}
	return Location{ServerURL: server, RoomName: domain.RoomName(room)}, nil
}
