package intake

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	"github.com/tanpawarit/legal-lead-agents/agent/worker"
	logx "github.com/tanpawarit/legal-lead-agents/pkg/logger"
	qstashx "github.com/tanpawarit/legal-lead-agents/pkg/qstash"
)

const defaultMaxBodyBytes = 64 << 10

// Submitter queues a run without blocking.
type Submitter interface {
	Submit(job worker.Job) error
}

// SignatureVerifier authenticates a raw request body.
type SignatureVerifier interface {
	Verify(signature string, body []byte) error
}

type leadRequest struct {
	ID      string `json:"id" binding:"required"`
	Name    string `json:"name"`
	Message string `json:"message" binding:"required"`
	Source  string `json:"source"`
}

type acceptedResponse struct {
	RunID  string `json:"run_id"`
	LeadID string `json:"lead_id"`
	Status string `json:"status"`
}

type Option func(*Handler)

// WithVerifier requires a valid Upstash-Signature on every lead submission.
func WithVerifier(v SignatureVerifier) Option {
	return func(h *Handler) {
		h.verifier = v
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

type Handler struct {
	pool     Submitter
	verifier SignatureVerifier
	maxBody  int64
	now      func() time.Time
	newRunID func() string
}

func NewHandler(pool Submitter, opts ...Option) *Handler {
	h := &Handler{
		pool:     pool,
		maxBody:  defaultMaxBodyBytes,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register mounts the lead endpoints on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/v1/leads", h.submitLead)
}

func (h *Handler) submitLead(c *gin.Context) {
	log := logx.FromContext(c.Request.Context())

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": "body unreadable or too large"})
		return
	}

	if h.verifier != nil {
		if err := h.verifier.Verify(c.GetHeader(qstashx.SignatureHeader), raw); err != nil {
			log.Warn().Err(err).Msg("lead submission signature rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
	}

	var req leadRequest
	if err := binding.JSON.BindBody(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": err.Error()})
		return
	}
	lead := contractx.Lead{
		ID:        strings.TrimSpace(req.ID),
		Name:      strings.TrimSpace(req.Name),
		Message:   strings.TrimSpace(req.Message),
		Source:    strings.TrimSpace(req.Source),
		CreatedAt: h.now().UTC(),
	}
	if lead.ID == "" || lead.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": "id and message must not be blank"})
		return
	}

	runID := h.newRunID()
	err = h.pool.Submit(worker.Job{RunID: runID, Lead: lead, Message: lead.Message})
	switch {
	case errors.Is(err, worker.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue_full"})
		return
	case errors.Is(err, worker.ErrPoolClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting_down"})
		return
	case err != nil:
		log.Error().Err(err).Str("lead_id", lead.ID).Msg("lead submission failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	log.Info().Str("lead_id", lead.ID).Str("run_id", runID).Msg("lead accepted")
	c.JSON(http.StatusAccepted, acceptedResponse{RunID: runID, LeadID: lead.ID, Status: "accepted"})
}
