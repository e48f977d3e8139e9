// Package config handles loading and validating the Switcher REST configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Overriding with SWITCHER_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// The defaults alone describe a working container: HTTP on 0.0.0.0:8080,
// MQTT bridge at localhost:1883, command journal under ./data.
//
// Security Considerations:
//   - Secrets (MQTT password, InfluxDB token, JWT secret) should be set via
//     environment variables rather than committed YAML
//
// Usage:
//
//	cfg, err := config.Load(os.Getenv("SWITCHER_CONFIG"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Addr())
package config
