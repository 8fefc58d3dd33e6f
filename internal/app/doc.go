// Package app provides the application service layer.
//
// Orchestrates use cases: OAuth connects, Instagram sends and scheduling,
// webhook ingestion, Gmail sync, Slack notifications, token refresh and the
// background job queue. Sits between HTTP handlers and domain repositories.
// Depends on domain interfaces and provider ports, not concrete clients.
package app
