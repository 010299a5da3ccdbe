package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/cespare/xxhash/v2"
)

const maxFilenamePath = 100

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SafeFilename maps a URL to a filesystem and object-store safe name of the
// form host_path_hash. The hash keeps names unique after truncation.
func SafeFilename(rawURL string) string {
	host, rest := rawURL, ""
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
		rest = u.Path
		if u.RawQuery != "" {
			rest += "?" + u.RawQuery
		}
	}

	safeHost := unsafeFilenameChars.ReplaceAllString(host, "_")
	safeRest := unsafeFilenameChars.ReplaceAllString(rest, "_")
	if len(safeRest) > maxFilenamePath {
		safeRest = safeRest[:maxFilenamePath]
	}

	return safeHost + "_" + safeRest + "_" + shortHash(rawURL)
}

func shortHash(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))[:8]
}

// RawHTMLKey names the stored copy of a page fetched at t.
func RawHTMLKey(t time.Time, pageURL string) string {
	return t.Format("20060102-150405") + "_" + SafeFilename(pageURL) + ".html"
}
