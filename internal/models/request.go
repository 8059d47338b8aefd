package models

import "time"

// RequestStatus is the approval state of a session request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestAccepted RequestStatus = "ACCEPTED"
	RequestRejected RequestStatus = "REJECTED"
)

// SessionRequest is the record a seeker files to ask a provider for a
// session. Its ID doubles as the session id used for room addressing
// once the request is accepted.
type SessionRequest struct {
	ID         string        `json:"id"`
	SeekerID   string        `json:"seekerId"`
	ProviderID string        `json:"providerId,omitempty"`
	Topic      string        `json:"topic,omitempty"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
	DecidedAt  *time.Time    `json:"decidedAt,omitempty"`
}

// CreateSessionRequestBody is the request body for filing a session request.
type CreateSessionRequestBody struct {
	ProviderID string `json:"providerId,omitempty"`
	Topic      string `json:"topic,omitempty" binding:"max=500"`
}

// CreateSessionRequestResponse returns the new request and the session id
// clients will use for room addressing.
type CreateSessionRequestResponse struct {
	RequestID string `json:"requestId"`
	SessionID string `json:"sessionId"`
}
