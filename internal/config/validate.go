package config

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// validate runs after setDefaults, so zero values left here are explicit.
func (c *Config) validate() error {
	return validation.Errors{
		"server":   c.validateServer(),
		"upstream": c.validateUpstream(),
		"retry": validation.ValidateStruct(&c.Retry,
			validation.Field(&c.Retry.MaxAttempts, validation.Required.Error("must be at least 1"), validation.Min(1)),
			validation.Field(&c.Retry.DelaySeconds, validation.Min(0.0)),
		),
		"log": validation.ValidateStruct(&c.Log,
			validation.Field(&c.Log.Level, validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError)),
			validation.Field(&c.Log.Format, validation.In("json", "text")),
		),
		"metrics": validation.ValidateStruct(&c.Metrics,
			validation.Field(&c.Metrics.Path, validation.When(c.Metrics.Enabled, validation.By(c.checkMetricsPath))),
		),
	}.Filter()
}

func (c *Config) validateServer() error {
	s := &c.Server
	return validation.ValidateStruct(s,
		validation.Field(&s.Host, validation.Required),
		validation.Field(&s.Port, validation.Min(1), validation.Max(65535)),
		validation.Field(&s.BodyMaxBytes, validation.Min(SizeBytes(0))),
		validation.Field(&s.AdminPrefix, validation.By(checkRoutePrefix)),
		validation.Field(&s.RateLimit, validation.By(func(any) error {
			return validation.ValidateStruct(&s.RateLimit,
				validation.Field(&s.RateLimit.RequestsPerSecond,
					validation.When(s.RateLimit.Enabled,
						validation.Required.Error("must be > 0 when rate limiting is enabled"),
						validation.Min(0.0).Exclusive(),
					),
				),
			)
		})),
	)
}

func (c *Config) validateUpstream() error {
	u := &c.Upstream
	return validation.ValidateStruct(u,
		validation.Field(&u.Host, validation.Required, is.Host),
		validation.Field(&u.Port, validation.Min(1), validation.Max(65535)),
		validation.Field(&u.ConnectTimeoutSeconds, validation.Min(0)),
		validation.Field(&u.ResponseHeaderTimeoutSeconds, validation.Min(0)),
		validation.Field(&u.IdleConnections, validation.Min(0)),
	)
}

// checkRoutePrefix rejects admin prefixes that would shadow the whole proxy.
func checkRoutePrefix(value any) error {
	p, _ := value.(string)
	if p == "" || p[0] != '/' {
		return errors.New("must start with '/'")
	}
	if p == "/" {
		return errors.New("must not be '/'")
	}
	return nil
}

func (c *Config) checkMetricsPath(value any) error {
	p, _ := value.(string)
	if err := checkRoutePrefix(p); err != nil {
		return err
	}
	for _, reserved := range []string{c.Server.AdminPrefix + "/healthz", c.Server.AdminPrefix + "/status"} {
		if p == reserved || strings.HasPrefix(p, reserved+"/") {
			return errors.New("conflicts with reserved route " + reserved)
		}
	}
	return nil
}
