package agent

import "strings"

func normalizeDBStr(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
