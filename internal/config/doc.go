// Package config resolves AION's settings.
//
// Settings come from, in increasing precedence:
//
//  1. Built-in defaults
//  2. ~/.aion/config.{yaml,toml,json}, or the file passed with --config
//  3. Variables from a .env file
//  4. AION_ environment variables (AION_PLUGINS_USER_DIR, AION_LOG_LEVEL, ...)
//
// Example config.yaml:
//
//	plugins:
//	  bundled_dirs: [/usr/share/aion/plugins]
//	  user_dir: ~/.aion/plugins
//	  config_file: ~/.aion/plugins_config.json
//	  audit_db: ~/.aion/audit.db
//	  exec_timeout: 30s
//	log:
//	  level: info
//	  format: console
package config
