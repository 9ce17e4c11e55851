// Package lock provides the per-resource exclusive locks used by the
// transaction coordinator and the registry that maps resource identifiers to
// them. Waits are always bounded by a timeout or a context; ownership is
// proven by a Token so a caller can never release a hold it does not own.
package lock
