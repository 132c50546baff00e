// Package automation runs and tracks external commands for
// application handlers. It captures stdout, stderr and the exit code
// of each command and keeps a label-to-handle registry supporting
// status queries, kills and bulk cleanup.
//
// The dispatch core never touches this package; it is a collaborator
// consumed by handlers registered with the route table.
package automation
