// Package manifest reads appmock.yaml manifests and locates plugin and
// framework directories by name. It provides the core.ManifestReader and
// core.PluginLocator used by the default Manager.
package manifest
