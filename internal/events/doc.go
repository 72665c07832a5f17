// Package events defines the fire-and-forget sink that receives log lines,
// counters and keyed fields from the balancer.
//
// Sinks never block the caller and never report failure. RedisSink forwards
// events to a Redis instance through a buffered queue and drops events when
// the queue is full.
package events
