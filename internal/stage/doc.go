// Package stage runs workflow stages. A Runner waits for the upstream output
// types it needs, calls its analysis function and publishes the result, or a
// failure record, back to the store. A Workflow runs a set of stages for one
// session concurrently.
package stage
