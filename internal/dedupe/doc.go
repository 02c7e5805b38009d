// Package dedupe tracks recently seen message ids so a frame redelivered
// across a reconnect is applied to the conversation state once.
package dedupe
