// Package fileutil holds the small filesystem helpers shared by appmock:
// directory creation, atomic file writes for configuration handed to host
// processes, and selective removal of instance artifacts.
package fileutil
