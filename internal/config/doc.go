// Package config defines configuration structures for the labexport CLI.
//
// Configuration can be provided via, lowest precedence first:
//   - Built-in defaults ([Default])
//   - YAML configuration file (config.yaml unless --config is given)
//   - Environment variables (LABEXPORT_ prefix)
//   - Command-line flags
//
// # File format
//
//	gitlab:
//	  url: https://gitlab.example.com
//	  private_token: glpat-xxxx
//	output:
//	  dir: projects_output
//	download:
//	  max_retries: 3
//	  retry_delay: 5        # seconds, or a duration such as 1.5s
//	poll:
//	  interval: 300ms
//	cache:
//	  dir: projects
//	archive:
//	  bucket: s3://backups?region=eu-west-1
//
// The resulting [Config] is a plain value. Load it once per command and pass
// it to constructors; nothing in this module reads configuration globally.
package config
