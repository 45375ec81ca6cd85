package handlers

import (
	"github.com/courseloom/entitlements/internal/app/store"
	"github.com/courseloom/entitlements/pkg/response"
	"github.com/courseloom/entitlements/pkg/ringlog"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

// RespListBillingRecords wraps ScanBillingRecordsResponse in the standard envelope.
type RespListBillingRecords struct {
	Code    response.APIResponseCode         `json:"code"`
	Message string                           `json:"message"`
	Data    store.ScanBillingRecordsResponse `json:"data"`
}

// RespWebhookDiagnostics wraps the diagnostics ring snapshot in the standard envelope.
type RespWebhookDiagnostics struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []ringlog.Event          `json:"data"`
}

// RespCreateCheckoutSession wraps CreateCheckoutSessionResponse in the standard envelope.
type RespCreateCheckoutSession struct {
	Code    response.APIResponseCode      `json:"code"`
	Message string                        `json:"message"`
	Data    CreateCheckoutSessionResponse `json:"data"`
}
