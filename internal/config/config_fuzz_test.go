package config

import (
	"strings"
	"testing"
	"time"
)

// FuzzConfigValidation checks that validation never panics and never
// accepts a host with shell metacharacters.
func FuzzConfigValidation(f *testing.F) {
	f.Add("localhost", 8080, "*.sh", int64(time.Second))
	f.Add("127.0.0.1; rm -rf /", 0, "../*.sh", int64(-1))
	f.Add("", 65536, "[", int64(0))

	f.Fuzz(func(t *testing.T, host string, port int, pattern string, interval int64) {
		cfg := Default()
		cfg.Server.Host = host
		cfg.Server.Port = port
		cfg.Build.Pattern = pattern
		cfg.Watch.Interval = time.Duration(interval)

		err := validateConfig(cfg)
		if err == nil && strings.ContainsAny(host, ";&|$`()<>\"'\\/") {
			t.Errorf("host %q accepted", host)
		}
	})
}
