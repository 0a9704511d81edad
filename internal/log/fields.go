package log

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldEndpoint     = "endpoint"
	FieldStatusCode   = "status_code"
	FieldDuration     = "duration_ms"
	FieldError        = "error"
	FieldErrorKind    = "error_kind"
	FieldInterval     = "interval"
	FieldPageSize     = "page_size"
	FieldAccounts     = "accounts"
	FieldTransactions = "transactions"
	FieldCategories   = "categories"
	FieldTags         = "tags"
	FieldTotalBalance = "total_balance"
	FieldDegraded     = "degraded"
	FieldTrigger      = "trigger"
	FieldMethod       = "method"
	FieldPath         = "path"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentUpAPI     = "upapi"
	ComponentRefresh   = "refresh"
	ComponentEntry     = "entry"
	ComponentRateLimit = "rate_limit"
	ComponentConfig    = "config"
)
