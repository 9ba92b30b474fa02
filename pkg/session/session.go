package session

import (
	"context"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/unmanic/unmanic/pkg/installation"
	"github.com/unmanic/unmanic/pkg/logging"
	"golang.org/x/sync/singleflight"
)

const (
	ComponentName = "Session"

	loadGroupKey = "installation"

	SupporterLevel = 5
	LibraryCount   = 999
	LinkCount      = 999

	DefaultTimeout = 30 * time.Second

	siteURL   = "http://localhost"
	mockAPI   = siteURL + "/api/v1/mock"
	loginURL  = mockAPI + "/login"
	logoutURL = mockAPI + "/logout"
)

const (
	InstallationIDKeyName = "installation_id"
	CreatedKeyName        = "created"
	SupporterLevelKeyName = "supporter_level"
	VersionKeyName        = "unmanic_version"
)

var idsGenerated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "installation_id_generated_total",
	Help: "installation identifiers generated because none was stored",
})

type Params struct {
	Version string
	// FixedID replaces the random identifier generated for a new installation
	FixedID string
	DevAPI  string
	Timeout time.Duration
}

// Session is the local installation session. It keeps the installation identifier and reports the
// fixed supporter state of a self-hosted install. Create one per process and share it.
type Session struct {
	params  Params
	store   installation.Store
	logger  logging.Logger
	created time.Time
	uuid    atomic.Pointer[string]

	// loadGroup collapses concurrent loads so callers of one process agree on the identifier
	loadGroup singleflight.Group
}

func New(params Params, store installation.Store, logger logging.Logger) *Session {
	if params.Timeout <= 0 {
		params.Timeout = DefaultTimeout
	}
	s := &Session{
		params:  params,
		store:   store,
		logger:  logger.WithField(logging.ComponentFieldKey, ComponentName),
		created: time.Now(),
	}
	s.logger.Info("Initialising new session object")
	return s
}

// GetInstallationUUID returns the installation identifier, loading it from the store or creating
// it on first use. Store failures are logged and a freshly generated identifier is returned.
func (s *Session) GetInstallationUUID(ctx context.Context) string {
	if id := s.uuid.Load(); id != nil {
		return *id
	}
	return s.loadInstallation(ctx)
}

func (s *Session) loadInstallation(ctx context.Context) string {
	v, _, _ := s.loadGroup.Do(loadGroupKey, func() (interface{}, error) {
		return s.fetchInstallationData(ctx), nil
	})
	return v.(string)
}

// fetchInstallationData loads the earliest stored identifier, creating one when none can be read.
func (s *Session) fetchInstallationData(ctx context.Context) string {
	if id := s.uuid.Load(); id != nil {
		return *id
	}
	res := s.store.Earliest(ctx)
	if !res.Absent() {
		return s.setUUID(res.Record.UUID)
	}
	if res.Status == installation.Failed {
		s.logger.WithContext(ctx).WithError(res.Err).Debug("Could not read installation data, creating new identifier")
	}
	id := s.generateID()
	s.storeInstallationData(ctx, id)

	// another process may have stored its identifier first, the earliest record wins
	if res := s.store.Earliest(ctx); !res.Absent() {
		id = res.Record.UUID
	}
	return s.setUUID(id)
}

func (s *Session) storeInstallationData(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if _, err := s.store.Upsert(ctx, id); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField(logging.InstallationIDFieldKey, id).
			Warn("Failed to store installation data")
	}
}

func (s *Session) generateID() string {
	idsGenerated.Inc()
	if s.params.FixedID != "" {
		return s.params.FixedID
	}
	return uuid.New().String()
}

// setUUID caches id unless an identifier was already cached, and returns the cached one.
func (s *Session) setUUID(id string) string {
	if s.uuid.CompareAndSwap(nil, &id) {
		return id
	}
	return *s.uuid.Load()
}

func (s *Session) GetSupporterLevel() int {
	return SupporterLevel
}

func (s *Session) GetSiteURL() string {
	return siteURL
}

func (s *Session) SetFullAPIURL(_, _, _ string) string {
	return mockAPI
}

func (s *Session) APIGet(_ context.Context, _, _, _ string) {}

func (s *Session) APIPost(_ context.Context, _, _, _ string, _ interface{}) {}

func (s *Session) GetAccessToken() bool {
	return false
}

func (s *Session) VerifyToken() bool {
	return false
}

func (s *Session) FetchUserData(_ context.Context) {}

func (s *Session) AuthUserAccount(_ context.Context, _ bool) bool {
	return true
}

func (s *Session) AuthTrialAccount(_ context.Context) bool {
	return true
}

// RegisterUnmanic stores the installation identifier, creating the record when missing.
func (s *Session) RegisterUnmanic(ctx context.Context, _ bool) bool {
	id := s.GetInstallationUUID(ctx)
	s.storeInstallationData(ctx, id)
	return true
}

// SignOut keeps the installation identity, there is no account to sign out of.
func (s *Session) SignOut(_ context.Context, _ bool) bool {
	return true
}

func (s *Session) GetSignOutURL() string {
	return logoutURL
}

func (s *Session) InitDeviceAuthFlow(_ context.Context) bool {
	return false
}

func (s *Session) PollForAppToken(_ context.Context, _ string, _, _ int) bool {
	return false
}

func (s *Session) GetPatreonLoginURL() string {
	return loginURL
}

func (s *Session) GetGithubLoginURL() string {
	return loginURL
}

func (s *Session) GetDiscordLoginURL() string {
	return loginURL
}

func (s *Session) GetPatreonSponsorPage() bool {
	return false
}

func (s *Session) LibraryCount() int { return LibraryCount }
func (s *Session) LinkCount() int    { return LinkCount }
func (s *Session) Name() string      { return "" }
func (s *Session) Email() string     { return "" }
func (s *Session) PictureURI() string {
	return ""
}

// Created is when this session object was created, not the installation.
func (s *Session) Created() time.Time {
	return s.created
}

// LastCheck is always nil, the session is never checked against a remote API.
func (s *Session) LastCheck() *time.Time {
	return nil
}

func (s *Session) DevAPI() string {
	return s.params.DevAPI
}

func (s *Session) Timeout() time.Duration {
	return s.params.Timeout
}

// Metadata describes the installation and its runtime.
func (s *Session) Metadata(ctx context.Context) map[string]string {
	return map[string]string{
		InstallationIDKeyName: s.GetInstallationUUID(ctx),
		VersionKeyName:        s.params.Version,
		SupporterLevelKeyName: strconv.Itoa(s.GetSupporterLevel()),
		CreatedKeyName:        s.created.UTC().Format(time.RFC3339),
		"golang_version":      runtime.Version(),
		"architecture":        runtime.GOARCH,
		"os":                  runtime.GOOS,
	}
}
