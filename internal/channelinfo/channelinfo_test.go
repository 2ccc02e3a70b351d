package channelinfo

import (
	"testing"
	"time"

	"github.com/kvs-signaling/core/internal/model"
)

func TestValidateRequiresNameOrArn(t *testing.T) {
	_, err := Validate(Raw{Region: "us-west-2"})
	if model.CodeOf(err) != model.ErrInvalidArg {
		t.Fatalf("expected ErrInvalidArg, got %v", err)
	}
}

func TestValidateAcceptsArnOnly(t *testing.T) {
	ci, err := Validate(Raw{ChannelArn: "arn:aws:kinesisvideo:us-west-2:111:channel/foo/123", Region: "us-west-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ci.ChannelName != "" {
		t.Fatalf("expected empty channel name")
	}
}

func TestValidateClampsTTL(t *testing.T) {
	ci, err := Validate(Raw{ChannelName: "c", Region: "us-west-2", MessageTTL: 1 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ci.MessageTTL != model.MinMessageTTL {
		t.Fatalf("expected clamp to %v, got %v", model.MinMessageTTL, ci.MessageTTL)
	}

	ci, err = Validate(Raw{ChannelName: "c", Region: "us-west-2", MessageTTL: 1 * time.Hour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ci.MessageTTL != model.MaxMessageTTL {
		t.Fatalf("expected clamp to %v, got %v", model.MaxMessageTTL, ci.MessageTTL)
	}
}

func TestValidateRejectsTooManyTags(t *testing.T) {
	tags := make([]model.Tag, model.MaxTagCount+1)
	for i := range tags {
		tags[i] = model.Tag{Name: "n", Value: "v"}
	}
	_, err := Validate(Raw{ChannelName: "c", Region: "us-west-2", Tags: tags})
	if model.CodeOf(err) != model.ErrTagLimit {
		t.Fatalf("expected ErrTagLimit, got %v", err)
	}
}

func TestValidateDerivesControlPlaneURL(t *testing.T) {
	ci, err := Validate(Raw{ChannelName: "c", Region: "US-WEST-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ci.Region != "us-west-2" {
		t.Fatalf("expected lower-cased region, got %q", ci.Region)
	}
	if ci.ControlPlaneURL != "https://kinesisvideo.us-west-2.amazonaws.com" {
		t.Fatalf("unexpected control plane URL: %q", ci.ControlPlaneURL)
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	raw := Raw{ChannelName: "c", Region: "us-west-2", MessageTTL: 30 * time.Second}
	a, err := Validate(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Validate(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ChannelName != b.ChannelName || a.Region != b.Region || a.MessageTTL != b.MessageTTL ||
		a.ControlPlaneURL != b.ControlPlaneURL {
		t.Fatalf("validate is not idempotent: %+v != %+v", a, b)
	}
}
