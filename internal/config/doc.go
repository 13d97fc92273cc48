// Package config handles configuration loading for whatsdesk.
//
// Configuration is loaded from YAML files with ${VAR_NAME} environment
// variable expansion and Go duration syntax for timing values. Defaults
// favor local development: sqlite storage next to the binary, the bridge
// transport pointed at a local sidecar, and an HTTP listener on :8080.
//
// Sections:
//
//	server:
//	  http_addr: ":8080"
//
//	database:
//	  driver: "sqlite"        # or "memory"
//	  path: "whatsdesk.db"
//
//	transport:
//	  kind: "bridge"          # or "cloud"
//	  bridge:
//	    base_url: "http://localhost:21465"
//	    session: "default"
//	    token: "${SIDECAR_TOKEN}"
//	  cloud:
//	    access_token: "${GRAPH_ACCESS_TOKEN}"
//	    phone_number_id: "555000"
//	    verify_token: "${WEBHOOK_VERIFY_TOKEN}"
//
//	session:
//	  pairing_expiry: "2m"
//	  send_timeout: "15s"
//
//	bot:
//	  tree_path: ""           # empty uses the built-in tree
//
//	logging:
//	  level: "info"           # debug, info, warn, error
//	  format: "text"          # text, json
package config
