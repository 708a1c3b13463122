package collector

import (
	"fmt"

	"github.com/qepting91/redditbot/internal/domain"
)

// NewDialer selects the correct implementation based on the mode
func NewDialer(mode, userAgent string) (domain.Dialer, error) {
	switch mode {
	case "api", "":
		return NewAPIDialer(), nil
	case "public":
		if userAgent == "" {
			return nil, fmt.Errorf("REDDIT_USER_AGENT is required for public mode")
		}
		return &PublicDialer{UserAgent: userAgent}, nil
	case "mock":
		return &MockDialer{}, nil
	default:
		return nil, fmt.Errorf("unknown COLLECTOR_MODE: %s (use 'api', 'public', or 'mock')", mode)
	}
}
