// Package notifications pushes run outcomes to ntfy.
//
// The service posts a plain-text message to the topic URL configured in
// config.toml and degrades to a no-op when no topic is set. Delivery failures
// are returned to the caller, which logs them; a lost notification never fails
// a run.
package notifications
