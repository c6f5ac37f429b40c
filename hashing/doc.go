// Package hashing implements Argon2id hashing for security-question answers
// and verification of primary passwords held by a user directory.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.Verify] additionally accepts bcrypt hashes. [Hasher.NeedsRehash]
// reports hashes produced with weaker parameters.
//
// # What this package must NOT do
//
//   - Store or retrieve secrets; callers supply plaintext and receive hashes.
//   - Import any other goMFA package.
//   - Log plaintext input or hash parameters at runtime.
package hashing
