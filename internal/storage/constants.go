package storage

const (
	EventTypeUserCellEdit    = "user_cell_edit"
	EventTypeRobotCellUpdate = "robot_cell_update"

	EventStatusPending    = "pending"
	EventStatusProcessing = "processing"
	EventStatusCompleted  = "completed"
	EventStatusFailed     = "failed"
	EventStatusCancelled  = "cancelled"

	UpdateTypeUserEdit   = "user_edit"
	UpdateTypeAIResponse = "ai_response"
	UpdateTypeAutoCopy   = "auto_copy"

	// Column operator types
	OperatorAuto             = "auto"
	OperatorGoogleSearch     = "google_search"
	OperatorURLContext       = "url_context"
	OperatorStructuredOutput = "structured_output"
	OperatorFunctionCalling  = "function_calling"
	OperatorPassthrough      = "passthrough"

	// Column data types
	DataTypeText   = "text"
	DataTypeNumber = "number"
	DataTypeURL    = "url"
	DataTypeEmail  = "email"
	DataTypeDate   = "date"
	DataTypeJSON   = "json"

	DefaultClaimLimit = 10
	DefaultEventLimit = 50

	LastErrorLeaseExpired = "processing lease expired"
)

// IsTerminalEventStatus는 더 이상 전이하지 않는 이벤트 상태인지 확인합니다.
func IsTerminalEventStatus(status string) bool {
	switch status {
	case EventStatusCompleted, EventStatusFailed, EventStatusCancelled:
		return true
	default:
		return false
	}
}
