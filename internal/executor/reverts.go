package executor

import (
	"errors"
	"strings"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// revertRule maps known revert-reason fragments to a user-facing message.
// Matching is case-insensitive substring search over the raw reason; the
// first rule that matches wins, so more specific fragments come first.
type revertRule struct {
	fragments []string
	message   string
}

var revertCatalog = []revertRule{
	{
		fragments: []string{"allowance exceeded", "insufficient allowance", "erc20: transfer amount exceeds allowance"},
		message:   "spending allowance exceeded",
	},
	{
		fragments: []string{"transfer amount exceeds balance", "insufficient balance", "insufficient funds"},
		message:   "insufficient balance to fund the trade",
	},
	{
		fragments: []string{"too little received", "insufficient_output_amount", "slippage"},
		message:   "price moved beyond the slippage tolerance",
	},
	{
		fragments: []string{"out of gas", "intrinsic gas too low"},
		message:   "transaction ran out of gas",
	},
	{
		fragments: []string{"user rejected", "user denied"},
		message:   "request was rejected by the signer",
	},
	{
		fragments: []string{"nonce too low", "replacement transaction underpriced"},
		message:   "transaction nonce conflict, will retry next cycle",
	},
	{
		fragments: []string{"permission expired", "delegation expired", "spend period exceeded"},
		message:   "delegated permission expired",
	},
}

// genericRevertMessage covers reverts the catalog does not recognize.
const genericRevertMessage = "transaction failed on-chain"

// lookupRevert resolves a raw revert reason against the catalog. The second
// return reports whether a rule matched.
func lookupRevert(raw string) (string, bool) {
	lowered := strings.ToLower(raw)
	for _, rule := range revertCatalog {
		for _, frag := range rule.fragments {
			if strings.Contains(lowered, frag) {
				return rule.message, true
			}
		}
	}
	return genericRevertMessage, false
}

// FormatError turns any pipeline error into the user-facing message persisted
// on a FAILED execution. Sentinel errors get curated text; chain reverts go
// through the catalog; anything else falls back to the error text itself.
func FormatError(err error) string {
	var revert *domain.ChainRevertError
	if errors.As(err, &revert) {
		if revert.Message != "" {
			return revert.Message
		}
		msg, _ := lookupRevert(revert.Raw)
		return msg
	}

	switch {
	case errors.Is(err, domain.ErrTimeout):
		return "confirmation not observed in time, the transaction may still land"
	case errors.Is(err, domain.ErrNoPermission):
		return "no valid delegated permission for this trade"
	case errors.Is(err, domain.ErrPermissionExpired):
		return "delegated permission expired"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "wallet balance too low to fund the trade"
	case errors.Is(err, domain.ErrLockHeld):
		return "another execution is already in flight for this signer"
	}

	if msg, ok := lookupRevert(err.Error()); ok {
		return msg
	}
	return "execution failed: " + err.Error()
}
