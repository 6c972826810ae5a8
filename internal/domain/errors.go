package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// FeedError is a failed rate lookup or stream operation on one exchange.
// Pair is the zero value for connection-level failures.
type FeedError struct {
	Exchange  string
	Pair      CurrencyPair
	Op        string // lookup, request, fetch, read, decode, dial, subscribe
	Err       error
	Retriable bool
}

func (e *FeedError) Error() string {
	msg := e.Exchange
	if e.Pair != (CurrencyPair{}) {
		msg += "(" + e.Pair.String() + ")"
	}
	return msg + " " + e.Op + ": " + e.Err.Error()
}

func (e *FeedError) IsRetriable() bool {
	return e.Retriable
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// NewFeedError creates a feed error worth retrying, e.g. a timeout or a 5xx response
func NewFeedError(exchange string, pair CurrencyPair, op string, err error) *FeedError {
	return &FeedError{Exchange: exchange, Pair: pair, Op: op, Err: err, Retriable: true}
}

// NewFatalFeedError creates a feed error that will fail the same way again
func NewFatalFeedError(exchange string, pair CurrencyPair, op string, err error) *FeedError {
	return &FeedError{Exchange: exchange, Pair: pair, Op: op, Err: err}
}

// ConfigError is an invalid configuration field
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrInvalidPair is returned when a currency pair string is malformed.
	ErrInvalidPair = errors.New("invalid currency pair")

	// ErrRuleSetNotFound is returned when a stored rule set does not exist
	ErrRuleSetNotFound = errors.New("rule set not found")

	// ErrFeedUnavailable is returned when no feed is configured for an exchange. Not retriable.
	ErrFeedUnavailable = errors.New("feed unavailable")

	// ErrRateNotFound is returned when a feed response carries no usable rate
	ErrRateNotFound = errors.New("rate not found")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
