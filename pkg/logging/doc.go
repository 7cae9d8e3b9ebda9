// Package logging builds the slog.Logger shared by every engine component,
// configured through the ACL_LOG_LEVEL and ACL_LOG_FORMAT options: text for
// development, JSON for log aggregation.
//
// Components take a *slog.Logger in their constructor; tests and callers
// that want silence pass logging.Nop().
package logging
