package receipt

import (
	"fmt"
	"strings"
)

// Environment selects which validation endpoint a receipt is sent to.
type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

func (e Environment) String() string {
	return string(e)
}

// ParseEnvironment accepts "sandbox" or "production" (also "prod"/"release").
// An empty value selects the sandbox.
func ParseEnvironment(raw string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "sandbox", "debug", "development":
		return EnvironmentSandbox, nil
	case "production", "prod", "release":
		return EnvironmentProduction, nil
	default:
		return "", fmt.Errorf("unknown receipt environment %q", raw)
	}
}
