package dto

import (
	"time"

	"github.com/EternisAI/wg-provisioner/internal/clients"
)

type ProvisionRequest struct {
	Identity string `json:"identity" binding:"required,alphanum,max=64"`
	Plan     string `json:"plan"`
	Days     int    `json:"days" binding:"min=0,max=3650"`
	Hours    int    `json:"hours" binding:"min=0,max=87600"`
}

type ClientResponse struct {
	Identity     string    `json:"identity"`
	Address      string    `json:"address"`
	PublicKey    string    `json:"public_key"`
	Plan         string    `json:"plan"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	Expired      bool      `json:"expired"`
	WarningFlags []int     `json:"warning_flags"`
}

// ProvisionResponse carries both artifacts so the caller can deliver them without a second request.
type ProvisionResponse struct {
	Client ClientResponse `json:"client"`
	Config string         `json:"config"`
	QRPNG  []byte         `json:"qr_png"`
}

type ListClientsResponse struct {
	Clients []ClientResponse `json:"clients"`
	Count   int              `json:"count"`
}

type StatsResponse struct {
	Count         int            `json:"count"`
	Active        int            `json:"active"`
	Expired       int            `json:"expired"`
	PerPlan       map[string]int `json:"per_plan"`
	PoolSize      int            `json:"pool_size"`
	PoolAvailable int            `json:"pool_available"`
}

type PlanResponse struct {
	Name   string         `json:"name"`
	Days   int            `json:"days,omitempty"`
	Hours  int            `json:"hours,omitempty"`
	Prices map[string]int `json:"prices,omitempty"`
}

type ListPlansResponse struct {
	Plans []PlanResponse `json:"plans"`
}

type EventResponse struct {
	Kind           string `json:"kind"`
	Identity       string `json:"identity"`
	Threshold      int    `json:"threshold,omitempty"`
	HoursRemaining int    `json:"hours_remaining,omitempty"`
}

type SweepResponse struct {
	Warnings int             `json:"warnings"`
	Expired  int             `json:"expired"`
	Removed  int             `json:"removed"`
	Events   []EventResponse `json:"events"`
}

// NewClientResponse never copies the private key; it only leaves the service inside the config artifact.
func NewClientResponse(rec *clients.Record) ClientResponse {
	flags := make([]int, len(rec.WarningFlags))
	copy(flags, rec.WarningFlags)
	return ClientResponse{
		Identity:     rec.Identity,
		Address:      rec.Address.String(),
		PublicKey:    rec.PublicKey,
		Plan:         rec.Plan,
		ExpiresAt:    rec.ExpiresAt,
		CreatedAt:    rec.CreatedAt,
		Expired:      rec.Expired,
		WarningFlags: flags,
	}
}
