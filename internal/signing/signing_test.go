package signing

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/kvs-signaling/core/internal/clockskew"
	"github.com/kvs-signaling/core/internal/model"
)

func testCreds() model.Credentials {
	return model.Credentials{
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY",
		Expiration:      time.Now().Add(time.Hour),
	}
}

func TestSignRequestRejectsMissingCredentials(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "https://kinesisvideo.us-west-2.amazonaws.com/describeSignalingChannel", nil)
	err := SignRequest(context.Background(), req, model.Credentials{}, "us-west-2", clockskew.NewTable(), model.StateDescribe, time.Now(), nil)
	if model.CodeOf(err) != model.ErrNoCredentials {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestSignRequestRejectsExpiredCredentials(t *testing.T) {
	creds := testCreds()
	creds.Expiration = time.Now().Add(-time.Minute)
	req, _ := http.NewRequest(http.MethodPost, "https://kinesisvideo.us-west-2.amazonaws.com/describeSignalingChannel", nil)
	err := SignRequest(context.Background(), req, creds, "us-west-2", clockskew.NewTable(), model.StateDescribe, time.Now(), nil)
	if model.CodeOf(err) != model.ErrCredentialExpired {
		t.Fatalf("expected ErrCredentialExpired, got %v", err)
	}
}

func TestSignRequestAddsHeaders(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "https://kinesisvideo.us-west-2.amazonaws.com/describeSignalingChannel", nil)
	req.Header.Set("User-Agent", "should-be-pruned")
	err := SignRequest(context.Background(), req, testCreds(), "us-west-2", clockskew.NewTable(), model.StateDescribe, time.Now(), []byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Header.Get("Authorization") == "" {
		t.Fatal("expected Authorization header to be set")
	}
	if req.Header.Get("X-Amz-Date") == "" {
		t.Fatal("expected X-Amz-Date header to be set")
	}
	if req.Header.Get("User-Agent") != "" {
		t.Fatal("expected User-Agent header to be pruned before signing")
	}
}

func TestSignRequestAppliesClockSkewCorrection(t *testing.T) {
	skew := clockskew.NewTable()
	device := time.Date(2025, 6, 27, 12, 27, 54, 0, time.UTC)
	server := device.Add(5 * time.Minute)
	skew.Observe(model.EndpointControlPlane, model.StateDescribe, server, device)

	req, _ := http.NewRequest(http.MethodPost, "https://kinesisvideo.us-west-2.amazonaws.com/describeSignalingChannel", nil)
	if err := SignRequest(context.Background(), req, testCreds(), "us-west-2", skew, model.StateDescribe, device, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantDate := server.Format("20060102T150405Z")
	if req.Header.Get("X-Amz-Date") != wantDate {
		t.Fatalf("expected corrected x-amz-date %q, got %q", wantDate, req.Header.Get("X-Amz-Date"))
	}
}

func TestSignWSSURLAppendsQueryParams(t *testing.T) {
	signed, err := SignWSSURL(context.Background(), "wss://e.example/?X-Amz-ChannelARN=arn:aws:kinesisvideo:us-west-2:1:channel/c/1",
		testCreds(), "us-west-2", clockskew.NewTable(), model.StateConnect, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"X-Amz-Algorithm=", "X-Amz-Credential=", "X-Amz-Signature=", "X-Amz-Date="} {
		if !strings.Contains(signed, want) {
			t.Fatalf("expected signed URL to contain %q: %s", want, signed)
		}
	}
}

func TestSignWSSURLRejectsMissingCredentials(t *testing.T) {
	_, err := SignWSSURL(context.Background(), "wss://e.example/", model.Credentials{}, "us-west-2", clockskew.NewTable(), model.StateConnect, time.Now())
	if model.CodeOf(err) != model.ErrNoCredentials {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}
