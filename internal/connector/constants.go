package connector

// HTTP 라우트 및 헤더에 사용될 상수들을 정의합니다.
const (
	headerUserID = "X-User-ID"
	headerAPIKey = "X-API-Key"

	routeHealth          = "/health"
	routeMetrics         = "/metrics"
	routeProcessEvents   = "/process-events"
	routeUpdateSheet     = "/update-sheet"
	routeUpdateCell      = "/trpc/cell.updateCell"
	routeGetEvents       = "/trpc/cell.getEvents"
	routeClearCells      = "/trpc/cell.clearCells"
	routeReprocessColumn = "/trpc/cell.reprocessColumn"
	routeRetryEvent      = "/trpc/cell.retryEvent"
	routeCreateRows      = "/api/v1/sheets/:sheetId/rows"

	ctxKeyUserID = "user_id"

	orderNewest = "newest"
	orderOldest = "oldest"
)
