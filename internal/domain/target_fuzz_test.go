package domain

import "testing"

// FuzzParseTarget exercises ParseTarget and the email check with random inputs to ensure they do not panic.
func FuzzParseTarget(f *testing.F) {
	seeds := []string{"https://example.com", "Example.COM", "bad..domain", "a@b", "foo@sub.example.co.uk", "idn_ß@ドメイン.example", "http://[::1]:80/", "://", "co.uk"}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, input string) {
		if tgt, err := ParseTarget(input); err == nil && tgt.Host == "" {
			t.Fatalf("nil error with empty host for %q", input)
		}
		_, _ = NormalizeEmail(input)
	})
}
