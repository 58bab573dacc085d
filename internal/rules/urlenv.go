package rules

import "net/url"

// parseURLEnv breaks a visit URL into the host/path/query components a
// rule condition can reference. Malformed URLs degrade to an empty
// URLEnv rather than failing rule evaluation — a rule referencing
// url.host simply won't match.
func parseURLEnv(raw string) URLEnv {
	u, err := url.Parse(raw)
	if err != nil {
		return URLEnv{}
	}
	return URLEnv{
		Host:  u.Host,
		Path:  u.Path,
		Query: u.RawQuery,
	}
}
