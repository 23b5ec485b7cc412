// Package config handles loading and validating Beamline Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Timeouts used by the device and screen layers (accessor get/put timeout,
// upstream check timeout) live here and are passed down explicitly to the
// constructors that need them. Nothing reads configuration from package
// globals at runtime.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Screen.UpstreamTimeout)
package config
