// Package config loads the zapd configuration and catalog seed documents.
//
// Documents are YAML (or JSON) or CUE, chosen by file extension. Every
// document is first checked against a built-in CUE schema, then decoded over
// the defaults from Default, then overridden from the environment
// (OPENZAP_STORE_DRIVER, OPENZAP_STORE_DSN, OPENZAP_LOG_LEVEL,
// OPENZAP_LOG_FORMAT, OPENZAP_METRICS_ADDR) and finally validated with
// go-playground/validator struct tags.
//
// A minimal YAML configuration:
//
//	store:
//	  driver: sqlite
//	  dsn: /var/lib/openzap/openzap.db
//	scheduler:
//	  interval: 15s
//	  workers: 8
//	  call_timeout: 20s
//	policy:
//	  enabled: true
//	  paths: [/etc/openzap/policies]
//	  disabled_services: [legacy-crm]
//
// The same file in CUE:
//
//	store: {driver: "sqlite", dsn: "/var/lib/openzap/openzap.db"}
//	scheduler: {interval: "15s", workers: 8, call_timeout: "20s"}
//
// Catalog documents hold trigger and action definitions, connections and
// zaps with their steps. Catalog.Seed upserts them, so seeding the same file
// twice is harmless.
package config
