package domain

import (
	"bufio"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/idna"
)

// Denylist holds operator-maintained hosts that link previews must never
// contact. An entry matches the host itself and every subdomain of it.
type Denylist struct {
	path string

	mu        sync.RWMutex
	set       map[string]struct{}
	updatedAt time.Time
}

func NewDenylist(path string) *Denylist {
	return &Denylist{path: path, set: map[string]struct{}{}}
}

// Load reads the list file (one host per line, '#' comments) and swaps it in.
// On error the previous entries stay active.
func (d *Denylist) Load() error {
	set, err := readListFile(d.path)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.set = set
	d.updatedAt = time.Now().UTC()
	d.mu.Unlock()
	return nil
}

func readListFile(path string) (map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	set := make(map[string]struct{})
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 10*1024*1024) // up to 10MB lines file
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if h := normalizeHost(line); h != "" {
			set[h] = struct{}{}
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

// normalizeHost lowercases h and converts IDNs to punycode so listed and
// requested names compare in one form.
func normalizeHost(h string) string {
	h = strings.Trim(strings.ToLower(strings.TrimSpace(h)), ".")
	if a, err := idna.Lookup.ToASCII(h); err == nil {
		h = a
	}
	return h
}

// Contains reports whether host or one of its parent domains is listed.
func (d *Denylist) Contains(host string) bool {
	h := normalizeHost(host)
	if h == "" {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.set) == 0 {
		return false
	}
	for {
		if _, ok := d.set[h]; ok {
			return true
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			return false
		}
		h = h[i+1:]
	}
}

// Allow makes the list usable as an outbound URL policy.
func (d *Denylist) Allow(u *url.URL) bool {
	return u != nil && !d.Contains(u.Hostname())
}

func (d *Denylist) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.set)
}

func (d *Denylist) UpdatedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.updatedAt
}
