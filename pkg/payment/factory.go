package payment

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Options selects and configures the one gateway wired into the process.
type Options struct {
	Provider      string // "liberec" or "mock"
	BaseURL       string
	Email         string
	Password      string
	WebhookSecret string
	CallbackURL   string
	Timeout       time.Duration

	MockSuccessWeight int
	MockFailureWeight int
	MockPendingWeight int
	MockSeed          int64
}

func NewGateway(opts Options, logger *zap.Logger) (Gateway, error) {
	switch opts.Provider {
	case "liberec", "mpesa":
		return NewLiberecGateway(opts, logger), nil
	case "mock":
		return NewMockGateway(MockConfig{
			SuccessWeight: opts.MockSuccessWeight,
			FailureWeight: opts.MockFailureWeight,
			PendingWeight: opts.MockPendingWeight,
			Seed:          opts.MockSeed,
			WebhookSecret: opts.WebhookSecret,
		}), nil
	}
	return nil, fmt.Errorf("unknown payment gateway %q", opts.Provider)
}
