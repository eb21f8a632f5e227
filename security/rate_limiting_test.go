package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSuspiciousUserAgent(t *testing.T) {
	suspicious := []string{
		"Googlebot/2.1",
		"my-crawler/1.0",
		"SPIDER agent",
		"data-scraper",
		"bot",
	}
	for _, ua := range suspicious {
		assert.True(t, isSuspiciousUserAgent(ua), "expected %q to be flagged", ua)
	}

	legitimate := []string{
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)",
		"curl/8.4.0",
		"",
	}
	for _, ua := range legitimate {
		assert.False(t, isSuspiciousUserAgent(ua), "expected %q to pass", ua)
	}
}
