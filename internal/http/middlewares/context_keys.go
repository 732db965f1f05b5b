package middlewares

const (
	CtxRequestID = "request_id"
	CtxJobID     = "job_id"
)
