// Package permission maps named permissions to bits of a 64-bit mask and
// composes them into roles.
//
// The realtime server uses it to answer check_permissions: a principal's role
// resolves to a [Mask64], and [RoleManager.Snapshot] expands that mask back
// into a name-to-bool map for the client.
//
// # Architecture boundaries
//
// This package is a pure in-memory data structure with no I/O. Registries and
// role managers are built during initialization and frozen before use.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import goRealtime, jwt, or protocol.
//   - Resize masks after registry construction.
package permission
