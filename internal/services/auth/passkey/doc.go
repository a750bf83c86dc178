// Package passkey implements WebAuthn passkey ceremonies.
//
// It owns challenge issuance, credential registration, and assertion
// validation so device-bound credentials stay usable whether or not the
// client knows the account email up front.
package passkey
