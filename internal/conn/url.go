package conn

import "net/url"

// redactURL drops credentials and query values from a dial target before logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid-url>"
	}
	u.User = nil
	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			q.Set(key, "redacted")
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
