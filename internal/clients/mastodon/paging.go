package mastodon

import (
	"net/url"
	"strings"
)

// parseLinkNextMaxID extracts the max_id token from the rel="next" entry of
// an RFC 8288 Link header, e.g.
//
//	<https://host/api/v1/admin/accounts?max_id=123>; rel="next",
//	<https://host/api/v1/admin/accounts?min_id=456>; rel="prev"
//
// The token is returned verbatim; an empty string means no next page.
func parseLinkNextMaxID(header string) string {
	for _, part := range strings.Split(header, ",") {
		sections := strings.Split(part, ";")
		if len(sections) < 2 {
			continue
		}
		rawURL := strings.TrimSpace(sections[0])
		if !strings.HasPrefix(rawURL, "<") || !strings.HasSuffix(rawURL, ">") {
			continue
		}
		isNext := false
		for _, attr := range sections[1:] {
			attr = strings.TrimSpace(attr)
			if attr == `rel="next"` || attr == "rel=next" {
				isNext = true
				break
			}
		}
		if !isNext {
			continue
		}
		u, err := url.Parse(strings.Trim(rawURL, "<>"))
		if err != nil {
			return ""
		}
		return u.Query().Get("max_id")
	}
	return ""
}
