package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Martian-dev/graph-mail-sync/internal/store"
	"github.com/Martian-dev/graph-mail-sync/internal/sync"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type SendEmailRequest struct {
	Subject   string `json:"subject" binding:"required"`
	Body      string `json:"body" binding:"required"`
	Recipient string `json:"recipient" binding:"required,email"`
}

type CreateUserRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Age   *int   `json:"age" binding:"omitempty,gte=0,lte=150"`
}

type AddContactRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	ContactName string `json:"contact_name" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Graph Email Service is running."})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSendEmail(c *gin.Context) {
	var req SendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	tok, err := s.deps.Credentials.Acquire(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}

	mail := sync.OutgoingMail{Subject: req.Subject, Body: req.Body, Recipient: req.Recipient}
	if err := s.deps.Sender.Send(ctx, mail, tok); err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Email sent successfully."})
}

func (s *Server) handleFetchEmails(c *gin.Context) {
	report, err := s.deps.Retrieval.Run(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  fmt.Sprintf("%d emails fetched and stored.", report.Fetched),
		"run_id":   report.RunID,
		"fetched":  report.Fetched,
		"inserted": report.Inserted,
		"skipped":  report.Skipped,
		"failed":   report.Failed,
	})
}

func (s *Server) handleListEmails(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultListLimit)
	if err != nil || limit <= 0 || limit > maxListLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be in 1..%d", maxListLimit)})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}

	messages, err := s.deps.Messages.List(c.Request.Context(), limit, offset)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emails": messages, "count": len(messages)})
}

func (s *Server) handleCountEmails(c *gin.Context) {
	n, err := s.deps.Messages.Count(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (s *Server) handleCreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.deps.Directory.CreateUser(c.Request.Context(), store.User{Name: req.Name, Email: req.Email, Age: req.Age})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "User created successfully.", "user": user})
}

func (s *Server) handleAddContact(c *gin.Context) {
	var req AddContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contact, err := s.deps.Directory.AddContact(c.Request.Context(), store.Contact{
		UserID:      req.UserID,
		ContactName: req.ContactName,
		PhoneNumber: req.PhoneNumber,
		Email:       req.Email,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Contact added successfully.", "contact": contact})
}

func (s *Server) handleGetUserContacts(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("user_id")

	user, err := s.deps.Directory.GetUser(ctx, userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if user == nil {
		s.fail(c, store.ErrUserNotFound)
		return
	}

	contacts, err := s.deps.Directory.ListContacts(ctx, userID, c.Query("contact_name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "contacts": contacts})
}

func (s *Server) handleSchedulerStatus(c *gin.Context) {
	if s.deps.Scheduler == nil {
		c.JSON(http.StatusOK, sync.SchedulerStatus{State: sync.StateStopped})
		return
	}
	c.JSON(http.StatusOK, s.deps.Scheduler.Status())
}

// fail maps err to a status code and writes the error body
func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var (
		authErr      *sync.AuthError
		fetchErr     *sync.FetchError
		sendErr      *sync.SendError
		retrievalErr *sync.RetrievalError
		validErr     *sync.ValidationError
	)
	switch {
	case errors.As(err, &validErr):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.As(err, &authErr), errors.As(err, &fetchErr), errors.As(err, &sendErr), errors.As(err, &retrievalErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
