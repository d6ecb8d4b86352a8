// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess = "success"

	// Authentication
	KeyAuthRequired        = "auth.required"
	KeyAuthInvalidToken    = "auth.invalid_token"
	KeyAuthTokenExpired    = "auth.token_expired"
	KeyAuthLoginSuccess    = "auth.login_success"
	KeyAuthRegisterSuccess = "auth.register_success"

	// Assets
	KeyAssetRegistered = "asset.registered"

	// Listings
	KeyListingCreated     = "listing.created"
	KeyListingActivated   = "listing.activated"
	KeyListingDeactivated = "listing.deactivated"

	// Rentals
	KeyRentalCreated   = "rental.created"
	KeyRentalCompleted = "rental.completed"
	KeyRentalCancelled = "rental.cancelled"

	// Streams
	KeyStreamOpened            = "stream.opened"
	KeyStreamWithdrawn         = "stream.withdrawn"
	KeyStreamMilestoneApproved = "stream.milestone_approved"
	KeyStreamReleased          = "stream.released"
	KeyStreamCancelled         = "stream.cancelled"
	KeyStreamFinalized         = "stream.finalized"

	// Disputes
	KeyDisputeOpened   = "dispute.opened"
	KeyDisputeResolved = "dispute.resolved"

	// Payments
	KeyPaymentIntentCreated = "payment.intent_created"
	KeyPaymentConfirmed     = "payment.confirmed"
	KeyPaymentPayout        = "payment.payout_requested"

	// Admin
	KeyAdminAccessDenied = "admin.access_denied"

	// Validation
	KeyValidationInvalid = "validation.invalid"

	// Error kinds
	KeyErrorValidation        = "error.validation"
	KeyErrorState             = "error.state"
	KeyErrorAuthorization     = "error.authorization"
	KeyErrorInsufficientFunds = "error.insufficient_funds"
	KeyErrorCollaborator      = "error.collaborator"
	KeyErrorNotFound          = "error.not_found"
	KeyErrorInternal          = "error.internal"
	KeyRateLimitExceeded      = "error.rate_limited"
)
