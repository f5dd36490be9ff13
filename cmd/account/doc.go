// Package account holds the account and verification-channel model of auth-ms
// and its persistence boundary.
//
// An account owns at most one email channel and one phone channel. Channel
// addresses are unique across accounts. All channel mutations go through
// Store.UpdateChannel, which locks the row, applies a mutation and runs the
// registered ChannelHooks inside the same transaction.
package account
