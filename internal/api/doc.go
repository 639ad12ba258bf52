// Package api serves the maintenance console to browser views: the job
// table and its actions under /api/v1/maintenance, a WebSocket event stream
// of live job state, the operator session and the audit trail.
package api
