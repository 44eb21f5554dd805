// Package logging builds the host's zap logger from configuration.
//
// Production mode writes JSON; development mode writes colored console
// lines at debug level. The level is held in a zap.AtomicLevel, so SetLevel
// changes it at runtime for every logger derived from the root.
//
// Each subsystem takes a named child from Component, which tags its lines
// with "storage", "fetcher", "reconcile" and so on:
//
//	logger, err := logging.New(logging.Config{Level: "info"})
//	engineLog := logger.Component("reconcile")
//	logger.SetLevel("debug")
package logging
