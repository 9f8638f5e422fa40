package server

// Request types shared by WebSocket commands and the REST API. Validation
// uses go-playground/validator struct tags.

// SettingsUpdateRequest is the body of settings/update and PUT /api/settings.
// Omitted fields are left unchanged.
type SettingsUpdateRequest struct {
	Threshold   *int    `json:"threshold" validate:"omitempty,gte=1,lte=255"`
	AudioDevice *string `json:"audio_device" validate:"omitempty,max=256"`
}

// LogViewRequest is the body of log/view and the query of GET /api/log.
type LogViewRequest struct {
	Limit  int    `json:"limit" validate:"gte=0,lte=500"`
	Offset int    `json:"offset" validate:"gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=monitor poll audio recording"`
}
