package featureflags

import (
	"os"
	"strings"
)

// Flags read from the environment as FLAG_<NAME>.
const (
	LoanStats     = "loan_stats"
	RedisLimiter  = "redis_limiter"
	ManagerSignup = "manager_signup"
)

// Enabled reports whether FLAG_<NAME> is set to true, 1, yes or on.
func Enabled(name string) bool {
	return EnabledOr(name, false)
}

// EnabledOr is Enabled with a default for when the flag is unset or unparseable.
func EnabledOr(name string, def bool) bool {
	v := os.Getenv("FLAG_" + strings.ToUpper(name))
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
