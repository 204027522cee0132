// Package events publishes build lifecycle events to NATS so CI dashboards
// can follow a build, and the GKI half of a mixed build, as it runs.
package events
