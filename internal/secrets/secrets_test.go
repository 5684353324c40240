package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/replydesk/aigateway/internal/crypto"
	"github.com/replydesk/aigateway/internal/domain"
)

func TestChainResolverDispatch(t *testing.T) {
	ctx := context.Background()

	mem := NewInMemoryResolver()
	mem.Set("openai-key", "sk-live")

	chain := NewChainResolver()
	chain.Register("mem", mem)

	got, err := chain.Resolve(ctx, "mem:openai-key")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "sk-live" {
		t.Errorf("Resolve() = %q, want sk-live", got)
	}
}

func TestChainResolverUnknownScheme(t *testing.T) {
	chain := NewChainResolver()

	_, err := chain.Resolve(context.Background(), "vault:some-ref")
	if !errors.Is(err, domain.ErrSecretNotFound) {
		t.Errorf("Resolve() error = %v, want ErrSecretNotFound", err)
	}
}

func TestChainResolverNoScheme(t *testing.T) {
	chain := NewChainResolver()
	chain.Register("mem", NewInMemoryResolver())

	_, err := chain.Resolve(context.Background(), "bare-reference")
	if !errors.Is(err, domain.ErrSecretNotFound) {
		t.Errorf("Resolve() error = %v, want ErrSecretNotFound", err)
	}
}

func TestEncryptedResolver(t *testing.T) {
	enc, err := crypto.NewEncryptor("master")
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	ciphertext, err := enc.Encrypt("sk-secret")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	r := NewEncryptedResolver(enc)
	got, err := r.Resolve(context.Background(), ciphertext)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "sk-secret" {
		t.Errorf("Resolve() = %q, want sk-secret", got)
	}

	if _, err := r.Resolve(context.Background(), "garbage"); err == nil {
		t.Error("Resolve(garbage) returned nil error")
	}
}

func TestInMemoryResolver(t *testing.T) {
	r := NewInMemoryResolver()
	r.Set("ref", "value")

	got, err := r.Resolve(context.Background(), "ref")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "value" {
		t.Errorf("Resolve() = %q, want value", got)
	}

	r.Delete("ref")
	if _, err := r.Resolve(context.Background(), "ref"); !errors.Is(err, domain.ErrSecretNotFound) {
		t.Errorf("Resolve() after delete error = %v, want ErrSecretNotFound", err)
	}
}
