package v1

// UpsertInstanceRequest creates or updates a DHIS2 instance configuration.
// The password is optional on update; leaving it empty keeps the stored one.
type UpsertInstanceRequest struct {
	Key              string `json:"key" binding:"required"`
	BaseURL          string `json:"base_url" binding:"required"`
	Username         string `json:"username" binding:"required"`
	Password         string `json:"password"`
	AllowInsecureTLS bool   `json:"allow_insecure_tls"`
}

// TestConnectionResponse reports the outcome of a connectivity probe.
type TestConnectionResponse struct {
	Connected bool   `json:"connected"`
	Version   string `json:"version,omitempty"`
	Message   string `json:"message,omitempty"`
}
