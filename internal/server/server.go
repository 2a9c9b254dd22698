package server

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/graph-mail-sync/internal/store"
	"github.com/Martian-dev/graph-mail-sync/internal/sync"
)

// MessageReader lists stored messages
type MessageReader interface {
	List(ctx context.Context, limit, offset int) ([]sync.NormalizedMessage, error)
	Count(ctx context.Context) (int, error)
}

// Directory stores users and contacts
type Directory interface {
	CreateUser(ctx context.Context, u store.User) (*store.User, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
	AddContact(ctx context.Context, c store.Contact) (*store.Contact, error)
	ListContacts(ctx context.Context, userID, contactName string) ([]store.Contact, error)
}

// StatusReporter exposes scheduler state
type StatusReporter interface {
	Status() sync.SchedulerStatus
}

// Deps are the collaborators the HTTP surface needs
type Deps struct {
	Credentials sync.CredentialProvider
	Sender      sync.MailSender
	Retrieval   sync.Job
	Messages    MessageReader
	Directory   Directory
	Scheduler   StatusReporter
	// Auth guards every route except / and /health when set
	Auth   gin.HandlerFunc
	Logger logrus.FieldLogger
}

// Server is the gin HTTP surface of the service
type Server struct {
	deps Deps
	log  logrus.FieldLogger
}

// New creates a Server
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &Server{deps: deps, log: deps.Logger.WithField("component", "http")}
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)

	api := r.Group("/")
	if s.deps.Auth != nil {
		api.Use(s.deps.Auth)
	}

	api.POST("/send-email", s.handleSendEmail)
	api.GET("/fetch-emails", s.handleFetchEmails)
	api.GET("/emails", s.handleListEmails)
	api.GET("/emails/count", s.handleCountEmails)
	api.POST("/create-user", s.handleCreateUser)
	api.POST("/add-contact", s.handleAddContact)
	api.GET("/get-user-contacts/:user_id", s.handleGetUserContacts)
	api.GET("/scheduler/status", s.handleSchedulerStatus)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if len(c.Errors) > 0 {
			entry.WithField("errors", c.Errors.String()).Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}
