// Package pgstore is the PostgreSQL credential store: accounts and
// password-reset grants behind the identity.CredentialStore contract,
// with embedded goose migrations.
package pgstore
