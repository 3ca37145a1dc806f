package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeHost returns scheme://host[:port]/ with exactly one trailing slash
// and without a trailing "api/" segment.
func NormalizeHost(host string) string {
	h := strings.TrimSpace(host)
	h = strings.TrimRight(h, "/")
	h = strings.TrimSuffix(h, "/api")
	return h + "/"
}

// HostOf extracts the normalized node base URL from any absolute URL.
func HostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: not an absolute url: %q", ErrValidation, rawURL)
	}
	return fmt.Sprintf("%s://%s/", u.Scheme, u.Host), nil
}

// SameHost compares two node base URLs after normalization.
func SameHost(a, b string) bool {
	return NormalizeHost(a) == NormalizeHost(b)
}

func AuthorID(host, serial string) string {
	return fmt.Sprintf("%sapi/authors/%s/", NormalizeHost(host), serial)
}

func EntryID(host, authorSerial, entrySerial string) string {
	return fmt.Sprintf("%sapi/authors/%s/entries/%s", NormalizeHost(host), authorSerial, entrySerial)
}

func CommentID(host, authorSerial, commentSerial string) string {
	return fmt.Sprintf("%sapi/authors/%s/commented/%s", NormalizeHost(host), authorSerial, commentSerial)
}

func LikeID(host, authorSerial, likeSerial string) string {
	return fmt.Sprintf("%sapi/authors/%s/liked/%s", NormalizeHost(host), authorSerial, likeSerial)
}

// EntryRef is a parsed entry FQID.
type EntryRef struct {
	Host         string
	AuthorSerial string
	EntrySerial  string
}

// ParseEntryID splits {host}[api/]authors/{serial}/entries/{entry_serial}
// back into its parts. Trailing slashes are tolerated.
func ParseEntryID(id string) (EntryRef, error) {
	host, segs, err := splitFQID(id)
	if err != nil {
		return EntryRef{}, err
	}
	n := len(segs)
	if n < 4 || segs[n-4] != "authors" || segs[n-2] != "entries" || segs[n-3] == "" || segs[n-1] == "" {
		return EntryRef{}, fmt.Errorf("%w: malformed entry id %q", ErrValidation, id)
	}
	return EntryRef{
		Host:         hostWithPrefix(host, segs[:n-4]),
		AuthorSerial: segs[n-3],
		EntrySerial:  segs[n-1],
	}, nil
}

// ParseAuthorID returns the host and serial of an author FQID of the form
// {host}[api/]authors/{serial}/.
func ParseAuthorID(id string) (host string, serial string, err error) {
	h, segs, err := splitFQID(id)
	if err != nil {
		return "", "", err
	}
	n := len(segs)
	if n < 2 || segs[n-2] != "authors" || segs[n-1] == "" {
		return "", "", fmt.Errorf("%w: malformed author id %q", ErrValidation, id)
	}
	return hostWithPrefix(h, segs[:n-2]), segs[n-1], nil
}

// CanonicalAuthorID rewrites any accepted spelling of an author FQID to the
// form AuthorID builds. Ids that do not parse are returned unchanged.
func CanonicalAuthorID(id string) string {
	host, serial, err := ParseAuthorID(id)
	if err != nil {
		return id
	}
	return AuthorID(host, serial)
}

// CanonicalEntryID is CanonicalAuthorID for entry FQIDs.
func CanonicalEntryID(id string) string {
	ref, err := ParseEntryID(id)
	if err != nil {
		return id
	}
	return EntryID(ref.Host, ref.AuthorSerial, ref.EntrySerial)
}

// LastSegment returns the final non-empty path segment of a URL, used to
// recover serials from comment and like FQIDs.
func LastSegment(id string) string {
	trimmed := strings.TrimRight(id, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

func splitFQID(id string) (string, []string, error) {
	decoded, err := url.PathUnescape(id)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	u, err := url.Parse(decoded)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", nil, fmt.Errorf("%w: not a fully-qualified id: %q", ErrValidation, id)
	}
	path := strings.Trim(u.Path, "/")
	var segs []string
	if path != "" {
		segs = strings.Split(path, "/")
	}
	return fmt.Sprintf("%s://%s/", u.Scheme, u.Host), segs, nil
}

// hostWithPrefix keeps any path prefix a node is mounted under, minus the
// api segment.
func hostWithPrefix(base string, prefix []string) string {
	if len(prefix) > 0 && prefix[len(prefix)-1] == "api" {
		prefix = prefix[:len(prefix)-1]
	}
	if len(prefix) == 0 {
		return base
	}
	return base + strings.Join(prefix, "/") + "/"
}
