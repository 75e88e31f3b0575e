package intake

import (
	"net/url"
	"strings"
)

const (
	MaxAttachments      = 5
	MaxAttachmentLength = 2048
)

// AttachmentPolicy accepts only public object URLs inside one storage bucket.
type AttachmentPolicy struct {
	Origin string // e.g. https://project.supabase.co; empty rejects everything
	Bucket string
}

// Normalize trims and de-duplicates in, keeping first-seen order, and checks
// every entry against the policy.
func (p AttachmentPolicy) Normalize(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		v := strings.TrimSpace(raw)
		if v == "" {
			return nil, invalid("attachment urls must be non-empty strings")
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) > MaxAttachments {
		return nil, invalid("at most 5 attachments are allowed")
	}
	for _, v := range out {
		if !p.Allowed(v) {
			return nil, invalid("attachment url is not a public storage object")
		}
	}
	return out, nil
}

// Allowed reports whether v is <origin>/storage/v1/object/public/<bucket>/...
// with the bucket either raw or percent-encoded.
func (p AttachmentPolicy) Allowed(v string) bool {
	if v == "" || len(v) > MaxAttachmentLength {
		return false
	}
	want, ok := origin(p.Origin)
	if !ok || p.Bucket == "" {
		return false
	}
	u, err := url.Parse(v)
	if err != nil {
		return false
	}
	got, ok := origin(v)
	if !ok || got != want || u.User != nil {
		return false
	}
	path := u.EscapedPath()
	const prefix = "/storage/v1/object/public/"
	return strings.HasPrefix(path, prefix+p.Bucket+"/") ||
		strings.HasPrefix(path, prefix+url.PathEscape(p.Bucket)+"/")
}

// origin renders scheme://host[:port] with the default port dropped.
func origin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host, true
}

// mergeAttachments appends extra to base unless already present.
func mergeAttachments(base []string, extra ...string) []string {
	out := append([]string(nil), base...)
	for _, e := range extra {
		if e == "" {
			continue
		}
		dup := false
		for _, b := range out {
			if b == e {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, e)
		}
	}
	return out
}
