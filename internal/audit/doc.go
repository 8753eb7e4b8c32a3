// Package audit writes the append-only action audit trail.
//
// Each line of audit.jsonl records one lifecycle step of an action: who
// asked for it, which link it ran on, how it ended and how long it took.
package audit
