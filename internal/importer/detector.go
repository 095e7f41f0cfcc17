package importer

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// FeedType はフィードの種類（RSS/Atom）を表す。
type FeedType string

const (
	// FeedTypeRSS はRSSフィード。
	FeedTypeRSS FeedType = "rss"
	// FeedTypeAtom はAtomフィード。
	FeedTypeAtom FeedType = "atom"
)

// FeedCandidate はHTMLから検出されたフィード候補を表す。
type FeedCandidate struct {
	URL      string
	FeedType FeedType
	Title    string
}

var feedContentTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
}

// ボディを見ないとフィードか判断できないContent-Type
var xmlContentTypes = []string{
	"text/xml",
	"application/xml",
}

// IsDirectFeed はContent-Typeとボディから、レスポンスがRSS/Atomフィードそのものかを判定する。
func IsDirectFeed(contentType string, body []byte) bool {
	mediaType := mediaTypeOf(contentType)

	for _, ct := range feedContentTypes {
		if mediaType == ct {
			return true
		}
	}

	isXML := false
	for _, ct := range xmlContentTypes {
		if mediaType == ct {
			isXML = true
			break
		}
	}
	if !isXML || len(body) == 0 {
		return false
	}
	return looksLikeFeed(body)
}

func mediaTypeOf(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mediaType)
}

// looksLikeFeed はXMLの先頭4KBでルート要素を確認する。
func looksLikeFeed(body []byte) bool {
	n := min(len(body), 4096)
	prefix := strings.ToLower(string(body[:n]))

	if strings.Contains(prefix, "<rss") || strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	return strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom")
}

// ParseFeedLinks はHTMLのhead内にある rel="alternate" のRSS/Atomリンクを列挙する。
// 相対URLはbaseURLを基準に解決する。
func ParseFeedLinks(htmlBody []byte, baseURL string) []FeedCandidate {
	var candidates []FeedCandidate

	base, err := url.Parse(baseURL)
	if err != nil {
		return candidates
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	inHead := false

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return candidates

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			switch string(tn) {
			case "head":
				inHead = true
				continue
			case "body":
				return candidates
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}

			var rel, linkType, href, title string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "type":
					linkType = strings.ToLower(string(val))
				case "href":
					href = string(val)
				case "title":
					title = string(val)
				}
				if !more {
					break
				}
			}

			if rel != "alternate" || href == "" {
				continue
			}

			var feedType FeedType
			switch linkType {
			case "application/rss+xml":
				feedType = FeedTypeRSS
			case "application/atom+xml":
				feedType = FeedTypeAtom
			default:
				continue
			}

			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			candidates = append(candidates, FeedCandidate{
				URL:      base.ResolveReference(ref).String(),
				FeedType: feedType,
				Title:    title,
			})

		case html.EndTagToken:
			if tn, _ := tokenizer.TagName(); string(tn) == "head" {
				return candidates
			}
		}
	}
}

// SelectBestFeed は候補から1件を選ぶ。
// 優先順位: 同一ホスト > Atom > RSS > 先に現れたもの
func SelectBestFeed(candidates []FeedCandidate, inputURL string) *FeedCandidate {
	if len(candidates) == 0 {
		return nil
	}

	inputHost := hostOf(inputURL)
	bestIdx, bestScore := 0, -1

	for i, c := range candidates {
		score := 0
		if hostOf(c.URL) == inputHost {
			score += 100
		}
		if c.FeedType == FeedTypeAtom {
			score += 10
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	return &candidates[bestIdx]
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
