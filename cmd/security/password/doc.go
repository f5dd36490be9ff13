// Package password hashes and verifies account passwords with Argon2id.
//
// Encoded hashes use the PHC string layout:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Stored hashes are untrusted input during Verify; hashes whose cost parameters
// exceed twice the configured cost are rejected as ErrInvalidHash.
//
// Accounts provisioned through single sign-on carry Unusable instead of a hash.
// Verify never matches it.
package password
