// Package ratelimit tracks per-caller request counts in fixed windows
// and decides admit/reject per named policy.
//
// Counters live behind a Store so a single instance can use process
// memory while a horizontally-scaled deployment shares Redis. With the
// in-memory store each instance counts independently, so effective
// limits scale with instance count; that is the documented trade-off,
// not a bug.
//
// The fixed-window algorithm admits up to 2x the nominal limit across a
// window boundary (a burst at the end of one window plus a burst at the
// start of the next). Callers that need a hard ceiling should size
// limits with that in mind.
package ratelimit
