package idp

import "errors"

var (
	ErrSSODisabled         = errors.New("SSO is disabled")
	ErrNoConnectors        = errors.New("no enabled connectors")
	ErrDuplicateConnector  = errors.New("duplicate connector id")
	ErrInvalidStorage      = errors.New("invalid storage configuration")
	ErrMissingClientSecret = errors.New("missing static client secret")

	ErrAlreadyRunning = errors.New("identity provider already running")
	ErrPortInUse      = errors.New("identity provider port in use")
)

// ConfigurationError reports that the persisted SSO state cannot produce a
// valid provider configuration. Nothing is spawned when it is returned.
type ConfigurationError struct {
	Detail string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "identity provider configuration: " + e.Err.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
