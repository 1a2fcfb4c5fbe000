// Package links extracts post links from free-form text and resolves them
// to post identifiers.
package links

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidLink marks a link that does not point at a concrete post.
var ErrInvalidLink = errors.New("invalid post link")

// Input pairs a post link with the text that surrounded it in the paste.
// Content may be empty; when present it spares a read call for the post.
type Input struct {
	Link    string
	Content string
}

var (
	linkRE       = regexp.MustCompile(`https?://(?:twitter|x)\.com/\S+|https?://t\.co/\S+`)
	postIDRE     = regexp.MustCompile(`(?:twitter|x)\.com/[^/]+/status/(\d+)`)
	statusPathRE = regexp.MustCompile(`^https?://[^/]+/([A-Za-z0-9_]+)/status/(\d+)`)
)

// Extract finds all post links in text, in order of appearance. The text
// segments before and after each link are joined into that link's Content,
// so a pasted digest ("summary\nlink\nsummary\nlink") keeps each post's
// description attached to it. Segments between two links belong to both.
func Extract(text string) []Input {
	locs := linkRE.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	segments := make([]string, 0, len(locs)+1)
	prev := 0
	for _, loc := range locs {
		segments = append(segments, text[prev:loc[0]])
		prev = loc[1]
	}
	segments = append(segments, text[prev:])

	inputs := make([]Input, 0, len(locs))
	for i, loc := range locs {
		before := strings.TrimSpace(segments[i])
		after := strings.TrimSpace(segments[i+1])
		inputs = append(inputs, Input{
			Link:    text[loc[0]:loc[1]],
			Content: cleanContext(joinContext(before, after)),
		})
	}
	return inputs
}

// ResolvePostID pulls the numeric post ID out of a twitter.com or x.com
// status link. Profile links, search links and t.co shortlinks cannot be
// resolved and return ErrInvalidLink.
func ResolvePostID(link string) (string, error) {
	m := postIDRE.FindStringSubmatch(link)
	if m == nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidLink, link)
	}
	return m[1], nil
}

// Canonicalize rewrites a status link on a mirror host (nitter instances,
// RSSHub and the like keep the /<user>/status/<id> path) to its x.com form.
// Returns false when the link has no status path.
func Canonicalize(link string) (string, bool) {
	m := statusPathRE.FindStringSubmatch(link)
	if m == nil {
		return "", false
	}
	return fmt.Sprintf("https://x.com/%s/status/%s", m[1], m[2]), true
}

// Resolver turns a post link into a post identifier.
type Resolver interface {
	Resolve(link string) (string, error)
}

// RegexResolver resolves links locally from their URL structure.
type RegexResolver struct{}

// Resolve implements Resolver.
func (RegexResolver) Resolve(link string) (string, error) {
	return ResolvePostID(link)
}

func joinContext(before, after string) string {
	switch {
	case before == "":
		return after
	case after == "":
		return before
	default:
		return before + "\n" + after
	}
}

func cleanContext(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	// Collapse runs of blank lines left by the link removal.
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s)
}
