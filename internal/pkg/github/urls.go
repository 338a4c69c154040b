package github

import (
	"net/url"
	"regexp"
	"strings"
)

// Locator is the canonical scope parsed from a repository URL.
type Locator struct {
	Owner  string
	Repo   string
	Path   string // empty means the repository root
	Branch string // empty means the repository default branch
}

// Supported URL shapes:
//
//	https://github.com/owner/repo            repo root, default branch
//	https://github.com/owner/repo.git        same, .git suffix stripped
//	https://github.com/owner/repo/tree/b     branch root
//	https://github.com/owner/repo/tree/b/p/  path scope, trailing slash stripped
//	https://github.com/owner/repo/blob/b/f   a file, scoped to its directory
var repoPathPattern = regexp.MustCompile(`^/([^/]+)/([^/]+?)(?:\.git)?(?:/(tree|blob)/([^/]+)(?:/(.+))?)?$`)

// ParseRepoURL parses a user-supplied repository URL into a Locator. It
// never fails hard: unparseable input yields nil.
func ParseRepoURL(raw string) *Locator {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}

	m := repoPathPattern.FindStringSubmatch(u.Path)
	if m == nil {
		return nil
	}

	owner, repo, kind, branch, path := m[1], m[2], m[3], m[4], m[5]

	switch kind {
	case "blob":
		if branch == "" || path == "" {
			return &Locator{Owner: owner, Repo: repo}
		}
		// A blob URL points at a file; sync its containing directory.
		dir := ""
		if i := strings.LastIndex(path, "/"); i >= 0 {
			dir = path[:i]
		}
		return &Locator{Owner: owner, Repo: repo, Branch: branch, Path: dir}
	case "tree":
		if branch == "" {
			return &Locator{Owner: owner, Repo: repo}
		}
		return &Locator{Owner: owner, Repo: repo, Branch: branch, Path: strings.TrimSuffix(path, "/")}
	default:
		return &Locator{Owner: owner, Repo: repo}
	}
}
