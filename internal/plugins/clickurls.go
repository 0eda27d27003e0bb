package plugins

import (
	"net/url"
	"strings"
)

// ChainClickURLs nests destination inside each click tracking URL, the first
// URL being the outermost redirect. Blank entries are skipped.
func ChainClickURLs(clickURLs []string, destination string) string {
	chained := destination
	for i := len(clickURLs) - 1; i >= 0; i-- {
		prefix := strings.TrimSpace(clickURLs[i])
		if prefix == "" {
			continue
		}
		chained = prefix + url.QueryEscape(chained)
	}
	return chained
}
