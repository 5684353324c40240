// Package provider defines the uniform completion-call contract the gateway
// speaks to every model backend. Providers are mutually incompatible on the
// wire; each adapter maps its own request/response shape and error surface
// into domain.Completion and classified domain.ProviderError values.
package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/replydesk/aigateway/internal/domain"
)

type CompletionCall struct {
	Model        string
	Messages     []domain.Message
	SystemPrompt string
	Params       domain.GenerationParams
}

type Provider interface {
	Name() string
	Complete(ctx context.Context, call CompletionCall) (*domain.Completion, error)
}

// Factory builds a provider adapter bound to one tenant's credential.
// Credentials live only for the duration of the request that resolved them.
type Factory func(credential string) Provider

// Registry maps provider names to adapter factories.
type Registry struct {
	mu             sync.RWMutex
	factories      map[string]Factory
	credentialFree map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		factories:      make(map[string]Factory),
		credentialFree: make(map[string]bool),
	}
}

func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// RegisterCredentialFree registers a provider whose adapter authenticates
// ambiently (instance role, local daemon) and takes no per-tenant credential.
// A tenant may route to it without a SecretRefs entry.
func (r *Registry) RegisterCredentialFree(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	r.credentialFree[name] = true
}

// NeedsCredential reports whether attempts against name must carry a
// resolved tenant credential.
func (r *Registry) NeedsCredential(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.credentialFree[name]
}

func (r *Registry) Build(name, credential string) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory(credential), nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// ClassifyStatus maps an HTTP status from a provider API into the gateway's
// failure taxonomy.
func ClassifyStatus(status int) domain.ErrorClass {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ClassAuth
	case status == http.StatusNotFound:
		return domain.ClassModelNotFound
	case status == http.StatusTooManyRequests:
		return domain.ClassRateLimited
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return domain.ClassInvalidRequest
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domain.ClassTimeout
	default:
		return domain.ClassTransport
	}
}

// ClassifyDialError maps a transport-level failure. Deadline and timeout
// errors classify separately so the orchestrator can report "timeout" as the
// fallback reason.
func ClassifyDialError(err error) domain.ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ClassTimeout
	}
	return domain.ClassTransport
}
