// Package secrets resolves opaque secret references into plaintext credential
// material. References are scheme-prefixed: "aws:name" is fetched from AWS
// Secrets Manager, "enc:ciphertext" is decrypted locally. Plaintext values are
// held only for the duration of one outbound call and are never logged; use
// crypto.Mask for diagnostics.
package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/replydesk/aigateway/internal/crypto"
	"github.com/replydesk/aigateway/internal/domain"
)

type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// ChainResolver dispatches a reference to the resolver registered for its
// scheme prefix.
type ChainResolver struct {
	resolvers map[string]Resolver
}

func NewChainResolver() *ChainResolver {
	return &ChainResolver{resolvers: make(map[string]Resolver)}
}

func (c *ChainResolver) Register(scheme string, r Resolver) {
	c.resolvers[scheme] = r
}

func (c *ChainResolver) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, rest, ok := strings.Cut(ref, ":")
	if !ok {
		return "", fmt.Errorf("secret ref %q has no scheme: %w", crypto.Mask(ref), domain.ErrSecretNotFound)
	}

	r, ok := c.resolvers[scheme]
	if !ok {
		return "", fmt.Errorf("no resolver for scheme %q: %w", scheme, domain.ErrSecretNotFound)
	}

	return r.Resolve(ctx, rest)
}

// AWSResolver fetches secrets from AWS Secrets Manager with a short read
// cache. The cache holds plaintext in process memory only.
type AWSResolver struct {
	client *secretsmanager.Client
	mu     sync.RWMutex
	cache  map[string]cachedSecret
	ttl    time.Duration
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewAWSResolver(ctx context.Context, region string, ttl time.Duration) (*AWSResolver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewAWSResolverWithConfig(cfg, ttl), nil
}

func NewAWSResolverWithConfig(cfg aws.Config, ttl time.Duration) *AWSResolver {
	return &AWSResolver{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]cachedSecret),
		ttl:    ttl,
	}
}

func (s *AWSResolver) Resolve(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if cached, ok := s.cache[name]; ok && time.Now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		return cached.value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s: %w", name, domain.ErrSecretNotFound)
	}

	value := *result.SecretString

	s.mu.Lock()
	s.cache[name] = cachedSecret{value: value, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return value, nil
}

func (s *AWSResolver) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]cachedSecret)
}

// EncryptedResolver opens ciphertext references produced by the dashboard
// when a tenant stores a provider key directly.
type EncryptedResolver struct {
	enc *crypto.Encryptor
}

func NewEncryptedResolver(enc *crypto.Encryptor) *EncryptedResolver {
	return &EncryptedResolver{enc: enc}
}

func (s *EncryptedResolver) Resolve(ctx context.Context, ciphertext string) (string, error) {
	plaintext, err := s.enc.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt secret: %w", domain.ErrSecretNotFound)
	}
	return plaintext, nil
}

// InMemoryResolver backs tests and local development.
type InMemoryResolver struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewInMemoryResolver() *InMemoryResolver {
	return &InMemoryResolver{secrets: make(map[string]string)}
}

func (s *InMemoryResolver) Resolve(ctx context.Context, ref string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.secrets[ref]
	if !ok {
		return "", fmt.Errorf("secret %s: %w", ref, domain.ErrSecretNotFound)
	}
	return value, nil
}

func (s *InMemoryResolver) Set(ref, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[ref] = value
}

func (s *InMemoryResolver) Delete(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, ref)
}
