// Package config handles configuration loading for intra-gateway.
//
// # Overview
//
// Configuration comes from an optional YAML or TOML file, environment
// variables, and built-in defaults, in that order of increasing precedence
// for the variables listed below. The gateway runs with no file at all when
// INTRA_CLIENT_ID and INTRA_CLIENT_SECRET are set.
//
// # Configuration File
//
// The file path comes from --config or the INTRA_GATEWAY_CONFIG environment
// variable. The extension selects the format: .toml for TOML, .yaml or .yml
// for YAML. Unknown YAML keys are rejected.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	api:
//	  client_secret: "${INTRA_CLIENT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Environment Overlay
//
// These variables override file values when set:
//
//	INTRA_CLIENT_ID      api.client_id
//	INTRA_CLIENT_SECRET  api.client_secret
//	INTRA_API_URL        api.base_url
//	PORT                 server.http_addr (as ":PORT")
//	INTRA_DB_PATH        database.path
//	TS_AUTHKEY           tailscale.auth_key (only when the file leaves it empty)
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":3000"
//
//	api:
//	  base_url: "https://api.intra.42.fr"
//	  token_url: ""            # defaults to base_url + /oauth/token
//	  client_id: "${INTRA_CLIENT_ID}"
//	  client_secret: "${INTRA_CLIENT_SECRET}"
//	  timeout: "10s"
//	  rate_limit: 2            # requests per second, negative disables
//	  rate_burst: 2
//	  cache:
//	    enabled: false
//	    ttl: "30s"
//	    max_cost: 33554432
//
//	auth:
//	  jwt_secret: ""           # enables bearer auth on POST /mcp, >= 32 bytes
//
//	database:
//	  path: ""                 # empty disables the audit store
//
//	logging:
//	  level: "info"            # debug, info, warn, error
//	  format: "text"           # text, json
//
//	metrics:
//	  enabled: false
//	  path: "/metrics"
//
//	tailscale:
//	  enabled: false
//	  hostname: "intra-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  state_dir: ""
//	  ephemeral: false
//	  https: false
//	  funnel: false            # implies https
//
// # Validation
//
// Validation failures are returned as *Error naming the offending field.
// Missing OAuth credentials wrap ErrMissingCredentials; out-of-range values
// wrap ErrInvalidValue.
package config
