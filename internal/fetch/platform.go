package fetch

import (
	"net/url"
	"strings"
)

// hosts maps a registrable domain to the platform name used in logs and stats.
var hosts = map[string]string{
	"youtube.com":   "youtube",
	"youtu.be":      "youtube",
	"instagram.com": "instagram",
	"tiktok.com":    "tiktok",
	"facebook.com":  "facebook",
	"fb.com":        "facebook",
	"fb.watch":      "facebook",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"pinterest.com": "pinterest",
	"pin.it":        "pinterest",
	"reddit.com":    "reddit",
	"redd.it":       "reddit",
	"vimeo.com":     "vimeo",
}

// Detect returns the platform for a supported http(s) URL.
func Detect(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	for host != "" {
		if p, ok := hosts[host]; ok {
			return p, true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
	}
	return "", false
}

// FindURL returns the first supported URL in a chat message.
func FindURL(text string) (link, platform string, ok bool) {
	for _, f := range strings.Fields(text) {
		if p, ok := Detect(f); ok {
			return f, p, true
		}
	}
	return "", "", false
}
