// Package signing attaches AWS SigV4 authentication to the control-plane
// REST requests (header mode) and the WSS upgrade URL (query-parameter
// mode), correcting the signing timestamp for any recorded clock skew
// before signing (spec C2).
package signing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	sigv4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"

	"github.com/kvs-signaling/core/internal/clockskew"
	"github.com/kvs-signaling/core/internal/model"
)

const serviceName = "kinesisvideo"

// headersToPrune are stripped from the request before signing so the
// signature does not bind to headers the client may mutate afterward
// (spec §4.2: "user-agent" is dropped after pre-sign prune).
var headersToPrune = []string{"User-Agent"}

// SignRequest attaches SigV4 header authentication to req. now is corrected
// for the recorded clock skew for (endpointKind, state) before signing.
func SignRequest(ctx context.Context, req *http.Request, creds model.Credentials, region string, skew *clockskew.Table, state model.State, now time.Time, body []byte) error {
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return model.NewError(model.ErrNoCredentials, "missing AWS credentials")
	}
	if !creds.Expiration.IsZero() && now.After(creds.Expiration) {
		return model.NewError(model.ErrCredentialExpired, "credentials expired")
	}

	for _, h := range headersToPrune {
		req.Header.Del(h)
	}

	signTime := skew.Correct(model.EndpointControlPlane, state, now)

	hash := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(hash[:])

	awsCreds := awssdk.Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
	}

	signer := sigv4.NewSigner()
	if err := signer.SignHTTP(ctx, awsCreds, req, payloadHash, serviceName, region, signTime); err != nil {
		return model.WrapError(model.ErrInternalError, "sigv4 header signing failed", err)
	}
	return nil
}
