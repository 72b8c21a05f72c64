// Package auth guards the gateway's HTTP endpoint with HS256 JWT bearer tokens.
//
// Authentication is optional. When auth.jwt_secret is configured, every
// POST /mcp must carry
//
//	Authorization: Bearer <token>
//
// where the token is signed with that secret and has a non-empty "sub"
// claim. The subject is attached to the request context and available via
// PrincipalFromContext. /health is never guarded.
//
// This is inbound authentication only. Calls to the intranet API use the
// gateway's own OAuth client credentials (see package oauth) regardless of
// which principal made the request.
//
// Tokens are minted with the CLI:
//
//	intra-gateway token --subject alice --ttl 720h
package auth
