package signaling

import (
	"context"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/kvs-signaling/core/internal/model"
)

// awsCredentialsAdapter bridges an aws-sdk-go-v2 aws.CredentialsProvider
// into the model.CredentialsProvider contract the signaling core's
// internal components expect (spec §6: "credentials provider" external
// collaborator).
type awsCredentialsAdapter struct {
	provider awssdk.CredentialsProvider
}

// NewStaticCredentials builds a CredentialsProvider from a fixed AWS access
// key/secret/session-token triple, the common case for an embedding
// application that already holds its own credentials.
func NewStaticCredentials(accessKeyID, secretAccessKey, sessionToken string) model.CredentialsProvider {
	return &awsCredentialsAdapter{
		provider: credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken),
	}
}

// WrapAWSCredentialsProvider adapts any aws-sdk-go-v2 credentials provider
// (the default chain from aws config.LoadDefaultConfig, an STS assume-role
// provider, etc.) to this module's collaborator contract.
func WrapAWSCredentialsProvider(p awssdk.CredentialsProvider) model.CredentialsProvider {
	return &awsCredentialsAdapter{provider: p}
}

func (a *awsCredentialsAdapter) Fetch(ctx context.Context, now time.Time) (model.Credentials, error) {
	creds, err := a.provider.Retrieve(ctx)
	if err != nil {
		return model.Credentials{}, model.WrapError(model.ErrNoCredentials, "failed to retrieve AWS credentials", err)
	}
	out := model.Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
	}
	if creds.CanExpire {
		out.Expiration = creds.Expires
	}
	return out, nil
}
