// Package auth defines the identity boundary used across the platform.
//
// It is the single place that owns user lifecycle, credential management,
// and session issuance so other services can depend on stable user IDs and
// authenticated requests instead of re-implementing identity rules.
//
// Subpackages:
//   - app: auth server wiring and lifecycle
//   - api/httpapi: HTTP handlers for the auth surface
//   - account: federated-identity upsert, linking, and lockout guard
//   - mailer: one-time-passcode delivery
//   - oauth: Google ID token verification
//   - otp: one-time-passcode ledger
//   - passkey: WebAuthn registration and authentication ceremonies
//   - storage: persistence interfaces and SQLite implementation
//   - token: bearer session token codec
//   - user: user domain model and helpers
package auth
