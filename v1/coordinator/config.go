package coordinator

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	lserrors "github.com/mirkobrombin/go-lockstep/v1/errors"
)

const (
	DefaultLockTimeout = 5 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 100 * time.Millisecond
)

// Config holds the acquisition and retry policy of a Coordinator.
type Config struct {
	// LockTimeout bounds the wait for each individual lock.
	LockTimeout time.Duration `mapstructure:"lock_timeout" validate:"gt=0"`
	// MaxAttempts is the total number of attempts, the first one included.
	MaxAttempts int `mapstructure:"max_attempts" validate:"gte=1,lte=100"`
	// RetryDelay is the constant pause between attempts.
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	// RetryJitter adds a random extra pause in [0, RetryJitter).
	RetryJitter time.Duration `mapstructure:"retry_jitter" validate:"gte=0"`
}

// DefaultConfig returns the reference policy: 5s lock timeout, 3 attempts,
// 100ms between attempts and no jitter.
func DefaultConfig() Config {
	return Config{
		LockTimeout: DefaultLockTimeout,
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
	}
}

var validate = validator.New()

// Validate checks the policy bounds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", lserrors.ErrInvalidConfig, err)
	}
	return nil
}

// WorstCase returns the longest time a transaction whose work returns
// immediately can take to resolve.
func (c Config) WorstCase() time.Duration {
	return time.Duration(c.MaxAttempts) * (c.LockTimeout + c.RetryDelay + c.RetryJitter)
}
