// Package identity provides a Redis-backed [goRealtime.IdentityStore].
//
// Principals are stored as one hash per subject under "<prefix>:<subject>"
// with the fields role, active and display_name. The engine looks a
// principal up on every authentication and every token renewal, so
// deactivating a principal here takes effect on its next renewal without
// any cache invalidation.
package identity
