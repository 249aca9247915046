// Package engine supervises the external image-generation engine process.
// It owns the child process for the service's lifetime, drains and
// classifies both of its output streams, publishes error lines onto a
// shared bounded queue for the dispatcher, and fans every line out to live
// log subscribers.
package engine
