package netproxy

import (
	"net/url"
	"os"
	"strings"
)

// envKeys are the proxy variables honoured by most CLI tools and HTTP stacks.
var envKeys = []string{
	"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY",
	"http_proxy", "https_proxy", "all_proxy",
}

// noProxy keeps loopback traffic, including the relay's own listeners, off
// the network proxy.
const noProxy = "localhost,127.0.0.1,::1"

// ApplyEnv exports the network proxy to the process environment so child
// processes inherit it. Inactive settings clear the variables. It returns
// the redacted URL that was applied, or "" when cleared.
func ApplyEnv(settings *Settings) (string, error) {
	u, err := settings.URL()
	if err != nil {
		return "", err
	}

	if u == nil {
		for _, k := range envKeys {
			if err := os.Unsetenv(k); err != nil {
				return "", err
			}
		}
		return "", nil
	}

	value := u.String()
	for _, k := range envKeys {
		if err := os.Setenv(k, value); err != nil {
			return "", err
		}
	}
	if err := mergeNoProxy(); err != nil {
		return "", err
	}
	return u.Redacted(), nil
}

// CurrentEnv returns the redacted proxy URL currently exported, checking the
// variables in precedence order.
func CurrentEnv() string {
	for _, k := range envKeys {
		if v := os.Getenv(k); v != "" {
			return redactURL(v)
		}
	}
	return ""
}

func mergeNoProxy() error {
	for _, k := range []string{"NO_PROXY", "no_proxy"} {
		current := os.Getenv(k)
		if current == "" {
			if err := os.Setenv(k, noProxy); err != nil {
				return err
			}
			continue
		}
		if strings.Contains(current, "127.0.0.1") {
			continue
		}
		if err := os.Setenv(k, current+","+noProxy); err != nil {
			return err
		}
	}
	return nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}
