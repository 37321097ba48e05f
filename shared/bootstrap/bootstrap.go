// Package bootstrap wires the dependencies every HTTP service shares: config, database,
// the Cognito session provider, the access pipeline and the audit producer.
package bootstrap

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/thinkats-access/shared/access"
	"github.com/pavitra93/thinkats-access/shared/audit"
	"github.com/pavitra93/thinkats-access/shared/config"
	"github.com/pavitra93/thinkats-access/shared/identity"
	"github.com/pavitra93/thinkats-access/shared/metrics"
	"github.com/pavitra93/thinkats-access/shared/middleware"
	"github.com/pavitra93/thinkats-access/shared/store"
	"github.com/pavitra93/thinkats-access/shared/utils"
)

// Stack is the set of long-lived dependencies built once in main
type Stack struct {
	Config  *config.AccessConfig
	Store   *store.Store
	AWS     *session.Session
	Cognito *identity.CognitoProvider
	Access  *middleware.AccessMiddleware
	Cookies middleware.Cookies
	Audit   audit.Publisher
	Log     *logrus.Entry

	closers []func() error
}

// Load reads the environment, connects to the database and builds the access stack
func Load(service string) (*Stack, error) {
	log := config.NewLogger(service)

	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found, using environment variables")
	}

	cfg := config.GetAccessConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := config.ConnectDatabase(config.GetDatabaseConfig())
	if err != nil {
		return nil, err
	}
	if err := config.Migrate(db); err != nil {
		return nil, err
	}

	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.AWSRegion)})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	provider := identity.NewCognitoProvider(identity.CognitoConfig{
		Region:     cfg.AWSRegion,
		UserPoolID: cfg.CognitoUserPoolID,
		ClientID:   cfg.CognitoClientID,
		Timeout:    cfg.IdPTimeout,
	}, cognitoidentityprovider.New(sess), utils.NewJWKSValidator(utils.CognitoJWKSURL(cfg.AWSRegion, cfg.CognitoUserPoolID), nil))

	s := &Stack{
		Config:  cfg,
		Store:   store.New(db),
		AWS:     sess,
		Cognito: provider,
		Cookies: middleware.NewCookies(cfg),
		Audit:   audit.Nop{},
		Log:     log,
	}
	if sqlDB, err := db.DB(); err == nil {
		s.closers = append(s.closers, sqlDB.Close)
	}

	if cfg.KafkaBroker != "" {
		producer := audit.NewProducer(cfg.KafkaBroker, cfg.AuditTopic, log)
		s.Audit = producer
		s.closers = append(s.closers, producer.Close)
	} else {
		log.Warn("KAFKA_BROKER not set, audit events are discarded")
	}

	pipeline := access.NewPipeline(cfg, provider, s.Store, log)
	s.Access = middleware.NewAccessMiddleware(pipeline, access.NewRemediations(cfg), s.Audit, log)
	return s, nil
}

// OnClose registers fn to run when the stack is closed
func (s *Stack) OnClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases everything in reverse order of acquisition
func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.Log.WithError(err).Warn("Failed to close dependency")
		}
	}
}

// NewRouter returns a gin engine with the health and metrics endpoints mounted
func NewRouter(service string) *gin.Engine {
	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, service+" is healthy", nil)
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}
