package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/DepressionHub/session-relay/internal/models"
	"github.com/DepressionHub/session-relay/internal/redis"
)

const requestTTL = 24 * time.Hour

// CreateSessionRequest files a new session request (requires authentication).
// The request id doubles as the session id used for room addressing.
func CreateSessionRequest(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var body models.CreateSessionRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := models.SessionRequest{
		ID:         uuid.New().String(),
		SeekerID:   userID.(string),
		ProviderID: body.ProviderID,
		Topic:      body.Topic,
		Status:     models.RequestPending,
		CreatedAt:  time.Now(),
	}

	if err := storeRequest(&req); err != nil {
		log.Printf("failed to store session request: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session request"})
		return
	}

	log.Printf("session request created: %s by %s", req.ID, req.SeekerID)

	c.JSON(http.StatusCreated, models.CreateSessionRequestResponse{
		RequestID: req.ID,
		SessionID: req.ID,
	})
}

// GetSessionRequest returns a session request by id (requires authentication).
func GetSessionRequest(c *gin.Context) {
	req, ok := loadRequest(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, req)
}

// AcceptSessionRequest moves a PENDING request to ACCEPTED (provider side).
func AcceptSessionRequest(c *gin.Context) {
	decideRequest(c, models.RequestAccepted)
}

// RejectSessionRequest moves a PENDING request to REJECTED (provider side).
func RejectSessionRequest(c *gin.Context) {
	decideRequest(c, models.RequestRejected)
}

func decideRequest(c *gin.Context, status models.RequestStatus) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	req, ok := loadRequest(c)
	if !ok {
		return
	}

	if req.Status != models.RequestPending {
		c.JSON(http.StatusConflict, gin.H{"error": "Session request already decided"})
		return
	}
	if req.ProviderID != "" && req.ProviderID != userID.(string) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Session request is addressed to another provider"})
		return
	}

	now := time.Now()
	req.Status = status
	req.ProviderID = userID.(string)
	req.DecidedAt = &now

	if err := storeRequest(req); err != nil {
		log.Printf("failed to update session request: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update session request"})
		return
	}

	log.Printf("session request %s -> %s by %s", req.ID, status, req.ProviderID)
	c.JSON(http.StatusOK, req)
}

func loadRequest(c *gin.Context) (*models.SessionRequest, bool) {
	id := c.Param("requestId")

	redisClient := redis.GetClient()
	ctx := redis.GetContext()

	data, err := redisClient.Get(ctx, "session-request:"+id).Result()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session request not found"})
		return nil, false
	}

	var req models.SessionRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to parse session request"})
		return nil, false
	}
	return &req, true
}

func storeRequest(req *models.SessionRequest) error {
	redisClient := redis.GetClient()
	ctx := redis.GetContext()

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return redisClient.Set(ctx, "session-request:"+req.ID, data, requestTTL).Err()
}
