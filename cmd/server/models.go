package main

import (
	"time"

	"github.com/liamcoop/ruleng/gifts"
)

// API request and response models

// EvaluateRequest is the body of POST /api/v1/evaluate
type EvaluateRequest struct {
	RuleSet string        `json:"ruleSet" example:"distribution"`
	Student gifts.Student `json:"student"`
}

// EvaluateResponse reports the outcome of one rule set evaluation
type EvaluateResponse struct {
	RuleSet        string          `json:"ruleSet"`
	Result         string          `json:"result" example:"matched"`
	Path           []string        `json:"path"`
	Granted        []GrantResponse `json:"granted"`
	Error          string          `json:"error,omitempty"`
	EvaluationTime string          `json:"evaluationTime"`
}

// GrantResponse is a ledger entry in API responses
type GrantResponse struct {
	ID        string    `json:"id" example:"123e4567-e89b-12d3-a456-426614174000"`
	Student   string    `json:"student" example:"ann"`
	Gift      string    `json:"gift" example:"girlGift"`
	RuleSet   string    `json:"ruleSet" example:"gift"`
	GrantedAt time.Time `json:"grantedAt" example:"2024-01-15T10:30:00Z"`
}

// GrantsListResponse is the response of GET /api/v1/grants
type GrantsListResponse struct {
	Grants []GrantResponse `json:"grants"`
}

// RuleSetResponse describes a registered rule set
type RuleSetResponse struct {
	Name        string `json:"name" example:"gift"`
	Description string `json:"description,omitempty"`
}

// RuleSetsListResponse is the response of GET /api/v1/rulesets
type RuleSetsListResponse struct {
	RuleSets []RuleSetResponse `json:"ruleSets"`
}

// HealthResponse is the response of GET /api/v1/health
type HealthResponse struct {
	Status   string `json:"status" example:"healthy"`
	Ledger   string `json:"ledger" example:"postgres"`
	RuleSets int    `json:"ruleSets" example:"2"`
	Error    string `json:"error,omitempty"`
}

// ErrorResponse is returned for failed requests
type ErrorResponse struct {
	Error   string `json:"error" example:"rule set not found"`
	Details string `json:"details,omitempty"`
}

func toGrantResponse(g *gifts.Grant) GrantResponse {
	return GrantResponse{
		ID:        g.ID,
		Student:   g.Student,
		Gift:      g.Gift,
		RuleSet:   g.RuleSet,
		GrantedAt: g.GrantedAt,
	}
}

func toGrantResponses(grants []*gifts.Grant) []GrantResponse {
	out := make([]GrantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, toGrantResponse(g))
	}
	return out
}
