// Package config handles loading and validating HomeNet configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with HOMENET_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// A missing configuration file is not an error: HomeNet runs on defaults
// (devices.json in the working directory, API on port 3000, no Z-Wave
// bridge, no database) plus any environment overrides.
//
// Security Considerations:
//   - Secrets (MQTT password, JWT secret, InfluxDB token) should be set via
//     environment variables rather than the file
//   - Authentication is off unless security.jwt.secret is set
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Devices.File)
package config
