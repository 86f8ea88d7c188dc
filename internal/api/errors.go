package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/BrainsyETH/clawsight/internal/gate"
	"github.com/BrainsyETH/clawsight/internal/payment"
	"github.com/BrainsyETH/clawsight/internal/protocol"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// writeError writes a JSON error response with the given status code. The
// envelope is the protocol type so agents decode failures with the same
// struct the server encodes.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, protocol.ErrorEnvelope{
		Error: protocol.ErrorBody{
			Code:    code,
			Message: message,
		},
	})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v any) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	return json.NewDecoder(lr).Decode(v)
}

// writePaymentRequired renders a cap block as HTTP 402. The directive header
// tells the client exactly what transfer would unblock it; the body repeats
// the cost and collection address for clients that only read JSON.
func writePaymentRequired(w http.ResponseWriter, capErr *gate.CapExceededError) {
	w.Header().Set(protocol.HeaderPaymentRequired, capErr.Directive.String())
	writeJSON(w, http.StatusPaymentRequired, protocol.ErrorEnvelope{
		Error: protocol.ErrorBody{
			Code:           "payment_required",
			Message:        capErr.Error(),
			Cost:           capErr.Cost,
			PaymentAddress: capErr.Directive.Recipient,
		},
	})
}

// writeGateError maps a gate failure onto the response taxonomy: cap blocks
// become 402 with a directive, rejected proofs 422 with the specific reason,
// a missing collection address 503, and unknown kinds 400. Anything else is
// an internal error.
func writeGateError(w http.ResponseWriter, err error) {
	var capErr *gate.CapExceededError
	if errors.As(err, &capErr) {
		writePaymentRequired(w, capErr)
		return
	}

	var verr *payment.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusUnprocessableEntity, "payment_invalid", verr.Error())
		return
	}

	switch {
	case errors.Is(err, gate.ErrNoCollectionAddress):
		writeError(w, http.StatusServiceUnavailable, "payment_unconfigured",
			"payment collection is not configured; paid operations are refused")
	case errors.Is(err, gate.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, "unknown_kind", "unknown operation kind")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
