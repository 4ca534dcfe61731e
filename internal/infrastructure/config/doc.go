// Package config handles loading and validating DeviceHub Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with DEVICEHUB_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, JWT secret) should be
//     set via environment variables rather than committed to the file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Service.Name, cfg.GetSyncInterval())
package config
