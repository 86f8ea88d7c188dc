package api

import "net/http"

// wellKnownManifest is the static JSON manifest for /.well-known/clawsight.json.
const wellKnownManifest = `{
  "name": "ClawSight",
  "description": "Usage metering and x402 spend caps for AI agents",
  "version": "0.1.0",
  "api_base": "/api/v1",
  "auth": {
    "type": "bearer",
    "header": "Authorization"
  },
  "payment": {
    "scheme": "x402",
    "chain": "base",
    "token": "USDC",
    "directive_header": "X-Payment-Required",
    "proof_header": "X-Payment-Proof"
  },
  "endpoints": {
    "sync": "/api/v1/events/sync",
    "heartbeat": "/api/v1/heartbeat",
    "configs": "/api/v1/skills/configs",
    "usage": "/api/v1/usage",
    "auth_nonce": "/api/v1/auth/nonce",
    "auth_verify": "/api/v1/auth/verify"
  },
  "health": "/health"
}`

// WellKnownHandler returns the static ClawSight well-known manifest.
func WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(wellKnownManifest))
}
