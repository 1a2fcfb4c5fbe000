package bot

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParseRunArgs splits an optional leading reply cap off the pasted text.
// "/run 5 <blob>" caps the run at 5 replies; "/run <blob>" replies to
// everything workable in the blob.
func ParseRunArgs(args string) (limit int, text string) {
	s := strings.TrimSpace(args)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n, ""
		}
		return 0, s
	}
	if n, err := strconv.Atoi(s[:i]); err == nil && n > 0 {
		return n, strings.TrimSpace(s[i:])
	}
	return 0, s
}

// ParseDaysArg reads an optional history window in days, defaulting to 3.
func ParseDaysArg(args string) (int, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 3, nil
	}
	n, err := strconv.Atoi(strings.Fields(s)[0])
	if err != nil || n < 1 || n > 90 {
		return 0, fmt.Errorf("days must be between 1 and 90")
	}
	return n, nil
}

// ParseRunFeedArgs reads an optional feed URL and an optional reply cap,
// in either order.
func ParseRunFeedArgs(args string) (url string, limit int, err error) {
	for _, f := range strings.Fields(args) {
		if strings.HasPrefix(f, "http://") || strings.HasPrefix(f, "https://") {
			url = f
			continue
		}
		n, convErr := strconv.Atoi(f)
		if convErr != nil || n < 1 {
			return "", 0, fmt.Errorf("usage: /runfeed [url] [count]")
		}
		limit = n
	}
	return url, limit, nil
}
