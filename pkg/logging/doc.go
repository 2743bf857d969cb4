// Package logging builds the slog loggers used by every mockserver
// component.
//
// Components take a *slog.Logger through an option and default to Nop.
// Child loggers carry a component attribute:
//
//	log := logging.Component(root, "store")
//	log.Info("expectation added", "id", exp.ID)
//
// Levels follow the MockServer names: TRACE, DEBUG, INFO, WARN, ERROR and OFF.
// Records can additionally be shipped to Loki.
package logging
