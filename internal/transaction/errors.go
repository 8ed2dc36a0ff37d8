package transaction

import "errors"

// Settlement and admission failures. Their text is what gets stored under
// raison_echec on the failed row.
var (
	ErrRecipientNotFound     = errors.New("recipient not found")
	ErrInvalidMerchantCode   = errors.New("invalid merchant code")
	ErrInvalidRecipientPhone = errors.New("invalid recipient phone number")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrAmountOutOfRange      = errors.New("amount out of range")
	ErrSettlementTimeout     = errors.New("settlement timed out")
)

var (
	// ErrAccountNotActive rejects a request before anything is written.
	ErrAccountNotActive = errors.New("account is not active")
	// ErrNotFound is returned for an unknown reference or one owned by another account.
	ErrNotFound = errors.New("transaction not found")
)

// IsSettlementError reports whether err is a domain failure recorded on a failed row.
func IsSettlementError(err error) bool {
	for _, target := range []error{
		ErrRecipientNotFound,
		ErrInvalidMerchantCode,
		ErrInvalidRecipientPhone,
		ErrInsufficientFunds,
		ErrAmountOutOfRange,
		ErrSettlementTimeout,
		ErrRailRejected,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
