// Package password provides salted, slow, one-way password hashing for
// the credential store. Hashes are argon2id in PHC string format and are
// never reversible.
package password
