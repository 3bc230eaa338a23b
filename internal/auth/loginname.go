package auth

import "strings"

// NormalizeLoginName trims the name and strips a DOMAIN\ or DOMAIN/ prefix.
// A trailing separator with nothing after it leaves the name unchanged.
func NormalizeLoginName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `\/`); i >= 0 && i+1 < len(name) {
		name = name[i+1:]
	}
	return strings.TrimSpace(name)
}

// MatchesLoginName reports whether actual names the configured account,
// either exactly (ignoring case) or as user@domain whose local part matches.
// An empty configured name never matches.
func MatchesLoginName(actual, configured string) bool {
	if configured == "" {
		return false
	}
	if strings.EqualFold(actual, configured) {
		return true
	}
	if at := strings.IndexByte(actual, '@'); at > 0 {
		return strings.EqualFold(actual[:at], configured)
	}
	return false
}
