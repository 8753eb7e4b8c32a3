// Package api serves the operator HTTP interface of the link daemon.
//
// Routes live under /api/v1. Every JSON response uses one envelope:
// {"result":"ok","data":...} or {"result":"error","code":...,"message":...},
// both carrying a correlationId. /telemetry streams server-sent events and
// /console is a WebSocket that takes pilot events and pushes telemetry.
package api
