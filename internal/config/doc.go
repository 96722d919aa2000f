// Package config loads the server configuration from YAML with environment
// overrides.
//
// Resolution order: ./ctxrelay.yaml, then ~/.config/ctxrelay/config.yaml
// (written with defaults on first run). CTXRELAY_* environment variables
// override the deploy-varying knobs, and secrets are always env-resolved:
// the file names the variable (api_key_env), never the key itself.
package config
