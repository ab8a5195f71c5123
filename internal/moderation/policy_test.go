package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	p, err := NewPolicy("linkedin.com")
	require.NoError(t, err)

	tests := []struct {
		name  string
		body  string
		admin bool
		want  Verdict
	}{
		{"no link", "hello everyone", false, Clean},
		{"no link admin", "hello everyone", true, Clean},
		{"bare domain is not a link", "visit evil.example today", false, Clean},
		{"scheme without host", "http:// nothing", false, Clean},
		{"admin any domain", "https://random.example", true, AdminExempt},
		{"admin trusted domain", "https://www.linkedin.com/in/x", true, AdminExempt},
		{"trusted www", "see my profile https://www.linkedin.com/in/x", false, ContentExempt},
		{"trusted apex", "https://linkedin.com/feed", false, ContentExempt},
		{"trusted http", "http://linkedin.com", false, ContentExempt},
		{"trusted subdomain", "https://jobs.uk.linkedin.com?x=1", false, ContentExempt},
		{"trusted with port", "https://linkedin.com:443/in/x", false, ContentExempt},
		{"trusted with bare port", "https://linkedin.com:8443", false, ContentExempt},
		{"userinfo disguise", "https://linkedin.com:x@evil.example/", false, Violation},
		{"userinfo empty password", "https://linkedin.com:@evil.example/", false, Violation},
		{"untrusted", "check this out https://evil.example/x", false, Violation},
		{"untrusted http", "http://evil.example", false, Violation},
		{"lookalike suffix", "https://linkedin.com.evil.example/x", false, Violation},
		{"lookalike prefix", "https://notlinkedin.com/x", false, Violation},
		{"case sensitive host", "https://LinkedIn.com/in/x", false, Violation},
		{"case sensitive scheme", "HTTPS://evil.example", false, Clean},
		{"mixed links exempted", "https://evil.example and https://linkedin.com/in/x", false, ContentExempt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Classify(tt.body, tt.admin))
		})
	}
}

func TestNewPolicyDefaultsAndValidation(t *testing.T) {
	p, err := NewPolicy("  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultTrustedDomain, p.Domain())

	for _, bad := range []string{"linkedin", "https://linkedin.com", "linked in.com", "*.linkedin.com"} {
		_, err := NewPolicy(bad)
		assert.Error(t, err, bad)
	}

	p, err = NewPolicy("example.org")
	require.NoError(t, err)
	assert.Equal(t, ContentExempt, p.Classify("https://docs.example.org/a", false))
	assert.Equal(t, Violation, p.Classify("https://exampleXorg.com/a", false))
}

func TestLinks(t *testing.T) {
	p, err := NewPolicy("")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/x", "http://b.example"}, p.Links("one https://a.example/x two http://b.example"))
	assert.Empty(t, p.Links("nothing here"))
}
