package plugins

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var (
	// https only; host, optional port and at least one path segment.
	repoURLPattern = regexp.MustCompile(`^https://[A-Za-z0-9][A-Za-z0-9.-]*(:[0-9]{1,5})?(/[A-Za-z0-9._~@%+-]+)+/?$`)

	refPattern    = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)
	commitPattern = regexp.MustCompile(`^[0-9a-fA-F]{7,40}$`)
	dirNameChars  = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// ValidateURL accepts https repository URLs only. Anything that git could
// read as an option, a local path or another transport is rejected.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("repository URL cannot be empty")
	}
	if !repoURLPattern.MatchString(rawURL) {
		return errors.Errorf("invalid repository URL %q: only https:// URLs are supported", rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrapf(err, "invalid repository URL %q", rawURL)
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return errors.Errorf("invalid repository URL %q: credentials, query and fragment are not allowed", rawURL)
	}
	for _, segment := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if segment == "." || segment == ".." {
			return errors.Errorf("invalid repository URL %q: relative path segments are not allowed", rawURL)
		}
	}
	return nil
}

// ValidateRef accepts branch, tag and commit names made of letters, digits,
// dot, dash, underscore and slash. A leading dash is rejected so the ref can
// never be parsed as a git option.
func ValidateRef(ref string) error {
	if !refPattern.MatchString(ref) {
		return errors.Errorf("invalid ref %q: only letters, digits, '.', '-', '_' and '/' are allowed", ref)
	}
	if strings.HasPrefix(ref, "-") {
		return errors.Errorf("invalid ref %q: must not start with '-'", ref)
	}
	if strings.Contains(ref, "..") {
		return errors.Errorf("invalid ref %q: must not contain '..'", ref)
	}
	return nil
}

// IsCommitRef reports whether ref looks like a full or abbreviated commit
// hash (7 to 40 hex characters).
func IsCommitRef(ref string) bool {
	return commitPattern.MatchString(ref)
}

// workingName picks the provisional directory name for a clone: the
// explicit name if given, otherwise the last segment of the URL without a
// .git suffix.
func workingName(rawURL, name string) (string, error) {
	candidate := name
	if candidate == "" {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", errors.Wrapf(err, "invalid repository URL %q", rawURL)
		}
		candidate = strings.TrimSuffix(path.Base(strings.TrimSuffix(u.Path, "/")), ".git")
	}

	if candidate == "" || candidate == "." || candidate == ".." || strings.HasPrefix(candidate, ".") ||
		!dirNameChars.MatchString(candidate) {
		return "", errors.Errorf("cannot derive a plugin directory name from %q", candidate)
	}
	return candidate, nil
}
