// Package identity is an embeddable identity-and-trust engine: password
// and OAuth authentication, account lockout, TOTP multi-factor with
// backup codes, password reset grants, and signed access/refresh tokens.
//
// The engine is assembled with a Builder:
//
//	svc, err := identity.New().
//		WithConfig(cfg).
//		WithStore(store).
//		WithCipher(cipher).
//		WithRedis(rdb).
//		Build()
//
// Persistence is behind the CredentialStore interface; pgstore provides
// the PostgreSQL implementation. Rate limiting and caching share one
// Redis client. Sensitive material (MFA seeds, provider tokens) is
// stored only as secret.Cipher ciphertext.
package identity
