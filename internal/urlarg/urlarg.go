// Package urlarg parses issue and repository URLs into IDs.
// This allows users to paste URLs from the browser or the API as arguments.
package urlarg

import (
	"net/url"
	"strconv"
	"strings"
)

// Parsed represents components extracted from an issue tracker URL.
type Parsed struct {
	Host         string
	RepositoryID string
	IssueID      string
}

// IsURL checks if the input looks like an issue or repository URL.
func IsURL(input string) bool {
	return Parse(input) != nil
}

// Parse extracts IDs from a URL. Returns nil if the input is not an http(s)
// URL naming an issue or repository.
//
// Supported URL patterns (under any path prefix, e.g. /api/v1):
//   - https://host/repositories/{repo}/issues/{id}
//   - https://host/repositories/{repo}/issues
//   - https://host/repositories/{repo}
//   - https://host/issues/{id}
func Parse(input string) *Parsed {
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return nil
	}
	u, err := url.Parse(input)
	if err != nil || u.Host == "" {
		return nil
	}

	p := &Parsed{Host: u.Host}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(segments); i++ {
		next := segments[i+1]
		if !isID(next) {
			continue
		}
		switch segments[i] {
		case "repositories", "repos":
			p.RepositoryID = next
			i++
		case "issues":
			p.IssueID = next
			i++
		}
	}
	if p.RepositoryID == "" && p.IssueID == "" {
		return nil
	}
	return p
}

// ExtractID extracts the issue ID from an argument.
// If the argument is a URL naming an issue, returns its ID.
// Otherwise, returns the argument as-is (assumed to be an ID).
func ExtractID(arg string) string {
	if parsed := Parse(arg); parsed != nil && parsed.IssueID != "" {
		return parsed.IssueID
	}
	return arg
}

// ExtractRepositoryID extracts the repository ID from an argument.
// If the argument is a URL naming a repository, returns its ID.
// Otherwise, returns the argument as-is.
func ExtractRepositoryID(arg string) string {
	if parsed := Parse(arg); parsed != nil && parsed.RepositoryID != "" {
		return parsed.RepositoryID
	}
	return arg
}

// ExtractIDs extracts issue IDs from multiple arguments, handling URLs.
func ExtractIDs(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		result[i] = ExtractID(arg)
	}
	return result
}

func isID(s string) bool {
	n, err := strconv.ParseInt(s, 10, 64)
	return err == nil && n > 0
}
