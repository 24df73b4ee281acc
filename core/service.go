package core

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service owns the token lifecycle for every authenticated identity: it
// coordinates refreshes (at most one in flight per CharacterID), keeps the
// in-memory session table, persists refresh credentials through the
// SecureStore and drives the interactive authorization flow.
type Service struct {
	config           Config
	logger           Logger
	loggerProvider   LoggerProvider
	metricsRecorder  MetricsRecorder
	errorFactory     ErrorFactory
	errorMapper      ErrorMapper
	configProvider   ConfigProvider
	optionsResolver  OptionsResolver
	secureStore      SecureStore
	secretProvider   SecretProvider
	credentialCodec  CredentialCodec
	tokenClient      TokenClient
	identityResolver IdentityResolver
	userAgent        UserAgent
	flowStateStore   FlowStateStore
	eventBus         SessionEventBus
	now              func() time.Time

	mu        sync.Mutex
	sessions  map[CharacterID]*AuthSession
	refreshes map[CharacterID]*refreshTask
	flow      *activeFlow
}

type ServiceDependencies struct {
	Logger           Logger
	LoggerProvider   LoggerProvider
	MetricsRecorder  MetricsRecorder
	ErrorFactory     ErrorFactory
	ErrorMapper      ErrorMapper
	ConfigProvider   ConfigProvider
	OptionsResolver  OptionsResolver
	SecureStore      SecureStore
	SecretProvider   SecretProvider
	CredentialCodec  CredentialCodec
	TokenClient      TokenClient
	IdentityResolver IdentityResolver
	UserAgent        UserAgent
	FlowStateStore   FlowStateStore
	EventBus         SessionEventBus
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("tokens", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("tokens"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.credentialCodec == nil {
		builder.credentialCodec = JSONCredentialCodec{}
	}
	if builder.eventBus == nil {
		builder.eventBus = NewMemorySessionEventBus()
	}
	if builder.now == nil {
		builder.now = time.Now
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.secureStore == nil {
		builder.secureStore = NewMemorySecureStore()
	}
	if builder.flowStateStore == nil {
		builder.flowStateStore = NewMemoryFlowStateStore(finalConfig.flowStateTTL())
	}

	return &Service{
		config:           finalConfig,
		logger:           logger,
		loggerProvider:   provider,
		metricsRecorder:  builder.metricsRecorder,
		errorFactory:     builder.errorFactory,
		errorMapper:      builder.errorMapper,
		configProvider:   builder.configProvider,
		optionsResolver:  builder.optionsResolver,
		secureStore:      builder.secureStore,
		secretProvider:   builder.secretProvider,
		credentialCodec:  builder.credentialCodec,
		tokenClient:      builder.tokenClient,
		identityResolver: builder.identityResolver,
		userAgent:        builder.userAgent,
		flowStateStore:   builder.flowStateStore,
		eventBus:         builder.eventBus,
		now:              builder.now,
		sessions:         map[CharacterID]*AuthSession{},
		refreshes:        map[CharacterID]*refreshTask{},
	}, nil
}

func Setup(cfg Config, options ...Option) (*Service, error) {
	return NewService(cfg, options...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:           s.logger,
		LoggerProvider:   s.loggerProvider,
		MetricsRecorder:  s.metricsRecorder,
		ErrorFactory:     s.errorFactory,
		ErrorMapper:      s.errorMapper,
		ConfigProvider:   s.configProvider,
		OptionsResolver:  s.optionsResolver,
		SecureStore:      s.secureStore,
		SecretProvider:   s.secretProvider,
		CredentialCodec:  s.credentialCodec,
		TokenClient:      s.tokenClient,
		IdentityResolver: s.identityResolver,
		UserAgent:        s.userAgent,
		FlowStateStore:   s.flowStateStore,
		EventBus:         s.eventBus,
	}
}

// OnSessionInvalidated registers a handler that runs whenever an identity's
// session is destroyed because its refresh credential was revoked.
func (s *Service) OnSessionInvalidated(handler SessionEventHandler) {
	if s == nil || s.eventBus == nil || handler == nil {
		return
	}
	s.eventBus.Subscribe(handler)
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) nowUTC() time.Time {
	if s == nil || s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func cloneSession(session *AuthSession) AuthSession {
	if session == nil {
		return AuthSession{}
	}
	cloned := *session
	cloned.Token.Scopes = append([]string(nil), session.Token.Scopes...)
	return cloned
}
