// Package throttle provides the two admission gates every call to the model
// backend passes through: a Gate bounding how many calls are in flight and a
// token-bucket RateLimiter bounding the long-run call rate while permitting
// short bursts.
package throttle
