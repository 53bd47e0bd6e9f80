package httpapi

import (
	"github.com/roach88/syncd/internal/ir"
)

// IngestResponse is returned by POST /api/transactions.
type IngestResponse struct {
	SyncID int64 `json:"sync_id"`
}

// TransactionsResponse is returned by GET /api/transactions.
type TransactionsResponse struct {
	SyncID       int64            `json:"sync_id"`
	Transactions []ir.Transaction `json:"transactions"`
}

// BootstrapResponse is returned by GET /api/bootstrap.
type BootstrapResponse struct {
	SyncID int64     `json:"sync_id"`
	Models ir.Models `json:"models"`
}

// ErrorResponse is the body of every non-2xx API answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func newErrorResponse(kind string, err error) ErrorResponse {
	return ErrorResponse{Error: err.Error(), Kind: kind}
}
