package dto

import "time"

type SweepResponse struct {
	Site     string `json:"site,omitempty"`
	Replaced int    `json:"replaced"`
}

type PurgeResponse struct {
	Removed int `json:"removed"`
}

type WarmRequest struct {
	Count int `json:"count" binding:"required,min=1,max=50"`
}

type WarmResponse struct {
	Site      string `json:"site"`
	Requested int    `json:"requested"`
	Inserted  int    `json:"inserted"`
}

type CreateTokenRequest struct {
	Worker string `json:"worker" binding:"required"`
	Role   string `json:"role"`
}

type CreateTokenResponse struct {
	Token     string    `json:"token"`
	WorkerID  string    `json:"worker_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}
