package tokens

import "github.com/goliatone/go-tokens/core"

type Config = core.Config

type FlowConfig = core.FlowConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type CharacterID = core.CharacterID
type AuthSession = core.AuthSession
type TokenPair = core.TokenPair
type PersistedCredential = core.PersistedCredential
type SessionStatus = core.SessionStatus
type SessionEvent = core.SessionEvent
type SessionEventHandler = core.SessionEventHandler
type Identity = core.Identity

type AuthorizeRequest = core.AuthorizeRequest
type CallbackRequest = core.CallbackRequest
type AuthorizationPrompt = core.AuthorizationPrompt

type TokenClient = core.TokenClient
type IdentityResolver = core.IdentityResolver
type UserAgent = core.UserAgent
type SecureStore = core.SecureStore
type SecretProvider = core.SecretProvider
type FlowStateStore = core.FlowStateStore
type FlowStateRecord = core.FlowStateRecord
type CredentialCodec = core.CredentialCodec

var (
	WithLogger           = core.WithLogger
	WithLoggerProvider   = core.WithLoggerProvider
	WithMetricsRecorder  = core.WithMetricsRecorder
	WithErrorFactory     = core.WithErrorFactory
	WithErrorMapper      = core.WithErrorMapper
	WithConfigProvider   = core.WithConfigProvider
	WithOptionsResolver  = core.WithOptionsResolver
	WithSecureStore      = core.WithSecureStore
	WithSecretProvider   = core.WithSecretProvider
	WithCredentialCodec  = core.WithCredentialCodec
	WithTokenClient      = core.WithTokenClient
	WithIdentityResolver = core.WithIdentityResolver
	WithUserAgent        = core.WithUserAgent
	WithFlowStateStore   = core.WithFlowStateStore
	WithSessionEventBus  = core.WithSessionEventBus
	WithClock            = core.WithClock
)

var (
	IsInvalidGrant = core.IsInvalidGrant
	IsNoSession    = core.IsNoSession
	IsTransient    = core.IsTransient
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
