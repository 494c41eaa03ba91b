package receipt

import (
	"net/url"
	"strings"
)

// Share describes the post a reader can send by scanning the receipt's QR
// code.
type Share struct {
	Endpoint string
	PageURL  string
	Related  []string
	Hashtags []string
}

// DefaultShare points at the exhibition page.
func DefaultShare() Share {
	return Share{
		Endpoint: "http://twitter.com/share",
		PageURL:  "https://digitalnature.slis.tsukuba.ac.jp/2025/03/lab-exhibition-2025/",
		Related:  []string{"labDNG", "ochyai"},
		Hashtags: []string{"落合陽一", "ｼﾝｷﾞｭﾗってｺﾝｳﾞｨｳﾞｨ展", "ｼﾝｷﾞｭﾗみくじ"},
	}
}

// URL builds the share-intent link carrying text.
func (s Share) URL(text string) string {
	q := url.Values{}
	if s.PageURL != "" {
		q.Set("url", s.PageURL)
	}
	if text != "" {
		q.Set("text", text)
	}
	if len(s.Related) > 0 {
		q.Set("related", strings.Join(s.Related, ","))
	}
	if len(s.Hashtags) > 0 {
		q.Set("hashtags", strings.Join(s.Hashtags, ","))
	}

	encoded := q.Encode()
	if encoded == "" {
		return s.Endpoint
	}
	return s.Endpoint + "?" + encoded
}

// Hashtag is the last hashtag rendered as "#tag", or "" without hashtags.
func (s Share) Hashtag() string {
	if len(s.Hashtags) == 0 {
		return ""
	}
	return "#" + s.Hashtags[len(s.Hashtags)-1]
}
