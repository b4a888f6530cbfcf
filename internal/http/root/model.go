package root

// Message is the fixed greeting served at the API root.
const Message = "Cryptoad API is running"

// Data models the root response payload.
type Data struct {
	Message string `json:"message" doc:"Service status message" example:"Cryptoad API is running"`
}

// GetOutput wraps the root response body.
type GetOutput struct {
	Body Data
}
