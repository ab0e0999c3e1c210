// Package platform defines the sandbox platform abstraction layer.
// Most users should use the top-level agentrun package, which selects
// and configures the appropriate platform automatically. Import this
// package directly only if you need to inspect platform capabilities
// or implement a custom Platform.
package platform
