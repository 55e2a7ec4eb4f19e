// Package journal persists instance state transitions in a SQLite file so a
// failed test run can be inspected after the process is gone.
package journal
