// Package reconciler drives one provisioning pass over the desired
// tenant list.
//
// The credential Secret is the single source of truth for "already
// provisioned": when it exists the tenant is skipped without touching
// SQL at all, so SQL-side drift behind an intact Secret is never
// repaired. Only a missing Secret retriggers provisioning — and doing
// so rotates an existing role's password to the freshly generated one,
// invalidating whatever the old Secret's consumers still hold.
// Idempotency lives at the secret layer, not the password layer.
package reconciler
