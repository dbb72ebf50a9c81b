package directory

import (
	"strings"

	"github.com/cvhariharan/sailboat/apperror"
)

// Handle is a fediverse account address such as alice@example.com.
type Handle struct {
	Username string
	Host     string
}

// ParseHandle accepts "@user@host", "user@host" and "acct:user@host".
func ParseHandle(s string) (Handle, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "acct:")
	s = strings.TrimPrefix(s, "@")

	user, host, ok := strings.Cut(s, "@")
	if !ok || user == "" || host == "" || strings.ContainsAny(host, "@/?# ") || strings.ContainsAny(user, "/?# ") {
		return Handle{}, apperror.BadRequest("invalid account handle %q", s)
	}
	return Handle{Username: user, Host: strings.ToLower(host)}, nil
}

func (h Handle) String() string { return h.Username + "@" + h.Host }

// Resource is the WebFinger resource for the handle.
func (h Handle) Resource() string { return "acct:" + h.String() }
