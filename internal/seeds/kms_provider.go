package seeds

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/coinharbor/custody/pkg/types"
)

// KMSProvider holds per-currency master seeds as AWS KMS-wrapped ciphertext
// blobs. Plaintext seeds only ever exist in process memory after a Decrypt
// call; the wrapping key never leaves KMS.
type KMSProvider struct {
	client  *kms.Client
	keyID   string
	wrapped map[types.Currency][]byte
}

// KMSConfig contains configuration for the AWS KMS seed backend
type KMSConfig struct {
	KeyID  string
	Region string

	// WrappedSeeds maps currency to the base64-encoded KMS ciphertext of
	// its 64-byte master seed.
	WrappedSeeds map[types.Currency]string
}

// NewKMSProvider creates a KMS-backed seed provider
func NewKMSProvider(ctx context.Context, cfg *KMSConfig) (*KMSProvider, error) {
	if cfg.KeyID == "" {
		return nil, fmt.Errorf("KMS key ID is required")
	}
	if len(cfg.WrappedSeeds) == 0 {
		return nil, fmt.Errorf("at least one wrapped seed is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	wrapped := make(map[types.Currency][]byte, len(cfg.WrappedSeeds))
	for currency, blob := range cfg.WrappedSeeds {
		raw, err := base64.StdEncoding.DecodeString(blob)
		if err != nil {
			return nil, fmt.Errorf("wrapped seed for %s is not valid base64: %w", currency, err)
		}
		wrapped[currency] = raw
	}

	return &KMSProvider{
		client:  kms.NewFromConfig(awsCfg),
		keyID:   cfg.KeyID,
		wrapped: wrapped,
	}, nil
}

// Seed decrypts the currency's wrapped seed through KMS.
func (p *KMSProvider) Seed(ctx context.Context, currency types.Currency) ([]byte, error) {
	blob, ok := p.wrapped[currency]
	if !ok {
		return nil, fmt.Errorf("no wrapped seed configured for %s", currency)
	}

	out, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: blob,
		KeyId:          aws.String(p.keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("KMS decrypt failed for %s: %w", currency, err)
	}

	if err := validateSeed(currency, out.Plaintext); err != nil {
		return nil, err
	}
	return out.Plaintext, nil
}

// Backend returns the backend name.
func (p *KMSProvider) Backend() string {
	return string(BackendKMS)
}
