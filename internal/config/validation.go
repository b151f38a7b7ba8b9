package config

import "fmt"

var validNegativePolicies = map[string]bool{
	"reject": true,
	"allow":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate rejects configurations that could only fail later and further
// from the cause.
func Validate(c *Config) error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.BusyTimeoutMS < 0 {
		return fmt.Errorf("database.busy_timeout_ms must be >= 0, got %d", c.Database.BusyTimeoutMS)
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of debug/info/warn/error, got %q", c.Log.Level)
	}
	if !validNegativePolicies[c.Inventory.NegativePolicy] {
		return fmt.Errorf("inventory.negative_policy must be reject or allow, got %q", c.Inventory.NegativePolicy)
	}
	if len(c.Accounts.Cash) == 0 {
		return fmt.Errorf("accounts.cash must list at least one cash account code")
	}
	if c.FX.RateCacheSize <= 0 {
		return fmt.Errorf("fx.rate_cache_size must be > 0, got %d", c.FX.RateCacheSize)
	}
	if c.Model.MaxIterations <= 0 {
		return fmt.Errorf("model.max_iterations must be > 0, got %d", c.Model.MaxIterations)
	}
	if c.Model.Tolerance <= 0 {
		return fmt.Errorf("model.tolerance must be > 0, got %v", c.Model.Tolerance)
	}
	for bucket, rate := range c.AR.ProvisionRates {
		if rate < 0 || rate > 100 {
			return fmt.Errorf("ar.provision_rates[%s] must be within 0..100, got %v", bucket, rate)
		}
	}
	return nil
}
