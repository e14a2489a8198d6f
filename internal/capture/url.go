package capture

import (
	"fmt"
	"net/url"
)

// withCredentials embeds basic auth user info into raw.
func withCredentials(raw, username, password string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("capture: bad URL: %w", err)
	}
	u.User = url.UserPassword(username, password)
	return u.String(), nil
}
