package config

import (
	"bytes"
	"errors"
	"io"

	"gopkg.in/yaml.v3"
)

// legacyFile is the single-section YAML layout historically read from
// /etc/holdproxy.yaml:
//
//	holdproxy:
//	  port: 3001
//	  upstream: 3000
//	  maxAttempts: 10
//	  delay: 5
type legacyFile struct {
	Holdproxy *legacySection `yaml:"holdproxy"`
}

type legacySection struct {
	Port         int      `yaml:"port"`
	Upstream     string   `yaml:"upstream"` // port, host or host:port
	UpstreamHost string   `yaml:"upstreamHost"`
	UpstreamPort int      `yaml:"upstreamPort"`
	MaxAttempts  int      `yaml:"maxAttempts"`
	Delay        *float64 `yaml:"delay"`
}

// decodeYAML accepts either the sectioned layout or the legacy holdproxy
// root. Unknown keys in the sectioned layout are rejected so a misspelt or
// foreign file does not silently fall back to defaults.
func decodeYAML(data []byte, cfg *Config) error {
	var legacy legacyFile
	if err := yaml.Unmarshal(data, &legacy); err == nil && legacy.Holdproxy != nil {
		legacy.Holdproxy.apply(cfg)
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *legacySection) apply(cfg *Config) {
	cfg.Server.Port = s.Port
	cfg.Upstream.Host = s.UpstreamHost
	cfg.Upstream.Port = s.UpstreamPort
	if s.Upstream != "" {
		cfg.Upstream.Target = s.Upstream
	}
	cfg.Retry.MaxAttempts = s.MaxAttempts
	cfg.Retry.DelaySeconds = s.Delay
}

