// Package config loads semlive configuration.
//
// Configuration is layered: built-in defaults, then one or more JSON or YAML
// files (later layers override earlier ones key by key), then SEMLIVE_*
// environment variables. The result is validated once and handed to the
// constructors; nothing reads it after startup.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/site.json")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Durations
//
// Duration fields accept Go duration strings ("250ms", "2s") and a "d" suffix
// for days ("7d"). Plain numbers are read as nanoseconds.
//
// # Environment Overrides
//
//	SEMLIVE_NATS_URL          transport URL
//	SEMLIVE_NATS_PREFIX       subject prefix
//	SEMLIVE_NATS_USERNAME     NATS user
//	SEMLIVE_NATS_PASSWORD     NATS password
//	SEMLIVE_NATS_TOKEN        NATS token
//	SEMLIVE_SESSION_ID        session id sent with presence requests
//	SEMLIVE_SERVER_ADDR       HTTP listen address
//	SEMLIVE_FRAME_INTERVAL    minimum frame emission interval
//	SEMLIVE_LOG_LEVEL         debug, info, warn or error
//	SEMLIVE_LOG_FORMAT        json or text
//
// When no session id is configured the loader generates a random UUID.
package config
