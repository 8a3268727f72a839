package dto

type HealthResponse struct {
	Status        string `json:"status"`
	Clients       int    `json:"clients"`
	PoolAvailable int    `json:"pool_available"`
	Error         string `json:"error,omitempty"`
}
