package keywrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// KMSWrapper wraps key material with AWS KMS.
type KMSWrapper struct {
	keyID  string
	client *kms.Client
}

// NewKMSWrapper loads AWS config via the default credential chain (env vars,
// shared config, IAM role) and builds a KMS client for the given region.
func NewKMSWrapper(keyID, region string) (*KMSWrapper, error) {
	if keyID == "" {
		return nil, fmt.Errorf("KMS key ID is required")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &KMSWrapper{
		keyID:  keyID,
		client: kms.NewFromConfig(cfg),
	}, nil
}

func (w *KMSWrapper) Wrap(ctx context.Context, plaintext []byte) ([]byte, error) {
	output, err := w.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(w.keyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("KMS encrypt failed: %w", err)
	}
	return output.CiphertextBlob, nil
}

func (w *KMSWrapper) Unwrap(ctx context.Context, wrapped []byte) ([]byte, error) {
	output, err := w.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(w.keyID),
		CiphertextBlob: wrapped,
	})
	if err != nil {
		return nil, fmt.Errorf("KMS decrypt failed: %w", err)
	}
	return output.Plaintext, nil
}

func (w *KMSWrapper) Backend() string {
	return "kms"
}

var _ Wrapper = (*KMSWrapper)(nil)
