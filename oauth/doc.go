// Package oauth implements the upstream halves of federated sign-in:
// building authorization URLs and exchanging callback codes for a
// provider-asserted identity.
package oauth
