package domain

const (
	RoleStudent = "STUDENT"
	RoleAdmin   = "ADMIN"
)

// Payment attempt statuses. SUCCESS, FAILED and DISPUTED are terminal.
const (
	AttemptInitiated  = "INITIATED"
	AttemptProcessing = "PROCESSING"
	AttemptPending    = "PENDING"
	AttemptSuccess    = "SUCCESS"
	AttemptFailed     = "FAILED"
	AttemptDisputed   = "DISPUTED"
)

// Trigger sources recorded on attempts and audit rows.
const (
	TriggerStudentPortal  = "STUDENT_PORTAL"
	TriggerBackgroundJob  = "BACKGROUND_JOB"
	TriggerAdminManual    = "ADMIN_MANUAL"
	TriggerGatewayWebhook = "GATEWAY_WEBHOOK"
)

const (
	InvoicePending   = "Pending"
	InvoicePartial   = "Partial"
	InvoicePaid      = "Paid"
	InvoiceOverdue   = "Overdue"
	InvoiceCancelled = "Cancelled"
)

const (
	DisputeRaised      = "RAISED"
	DisputeUnderReview = "UNDER_REVIEW"
	DisputeResolved    = "RESOLVED"
	DisputeRejected    = "REJECTED"
)

const (
	DisputeActionApprove = "APPROVE"
	DisputeActionReject  = "REJECTED"
)

// Gateway-reported payment states.
const (
	GatewaySuccess = "SUCCESS"
	GatewayFailed  = "FAILED"
	GatewayPending = "PENDING"
)

const ReceiptPrefix = "RCP-STU"
