package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kvs-signaling/core/internal/clockskew"
	"github.com/kvs-signaling/core/internal/model"
)

type staticCreds struct{}

func (staticCreds) Fetch(ctx context.Context, now time.Time) (model.Credentials, error) {
	return model.Credentials{
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		Expiration:      now.Add(time.Hour),
	}, nil
}

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := NewClient(srv.Client(), staticCreds{}, "us-west-2", clockskew.NewTable())
	return c, srv
}

func TestDescribeChannelHappyPath(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != postfixDescribeChannel {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Date", time.Now().UTC().Format(http.TimeFormat))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ChannelInfo": map[string]any{
				"ChannelARN":    "arn:aws:kinesisvideo:us-west-2:1:channel/c/1",
				"ChannelName":   "c",
				"ChannelStatus": "ACTIVE",
				"ChannelType":   "SINGLE_MASTER",
				"Version":       "v1",
				"SingleMasterConfiguration": map[string]any{
					"MessageTtlSeconds": 60,
				},
			},
		})
	})
	defer srv.Close()

	desc, err := c.DescribeChannel(context.Background(), srv.URL, model.ChannelInfo{ChannelName: "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.ChannelStatus != model.ChannelStatusActive {
		t.Fatalf("expected ACTIVE status, got %v", desc.ChannelStatus)
	}
	if desc.MessageTTL != 60*time.Second {
		t.Fatalf("expected 60s TTL, got %v", desc.MessageTTL)
	}
}

func TestDescribeChannelFailsWhenDeleting(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ChannelInfo": map[string]any{
				"ChannelARN":    "arn:aws:kinesisvideo:us-west-2:1:channel/c/1",
				"ChannelStatus": "DELETING",
			},
		})
	})
	defer srv.Close()

	_, err := c.DescribeChannel(context.Background(), srv.URL, model.ChannelInfo{ChannelName: "c"})
	if model.CodeOf(err) != model.ErrChannelBeingDeleted {
		t.Fatalf("expected ErrChannelBeingDeleted, got %v", err)
	}
}

func TestCreateChannelFailsWithoutArn(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ChannelARN": ""})
	})
	defer srv.Close()

	_, err := c.CreateChannel(context.Background(), srv.URL, model.ChannelInfo{ChannelName: "c", MessageTTL: 30 * time.Second})
	if model.CodeOf(err) != model.ErrNoArnReturned {
		t.Fatalf("expected ErrNoArnReturned, got %v", err)
	}
}

func TestGetEndpointRequiresHttpsAndWss(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ResourceEndpointList": []map[string]any{
				{"Protocol": "HTTPS", "ResourceEndpoint": "https://e.example"},
			},
		})
	})
	defer srv.Close()

	_, err := c.GetEndpoint(context.Background(), srv.URL, "arn:1", model.RoleMaster)
	if model.CodeOf(err) != model.ErrMissingEndpoints {
		t.Fatalf("expected ErrMissingEndpoints, got %v", err)
	}
}

func TestGetEndpointPopulatesAllThree(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ResourceEndpointList": []map[string]any{
				{"Protocol": "HTTPS", "ResourceEndpoint": "https://e.example"},
				{"Protocol": "WSS", "ResourceEndpoint": "wss://e.example"},
				{"Protocol": "WEBRTC", "ResourceEndpoint": "webrtc://e.example"},
			},
		})
	})
	defer srv.Close()

	eps, err := c.GetEndpoint(context.Background(), srv.URL, "arn:1", model.RoleMaster)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eps.HTTPS == "" || eps.WSS == "" || eps.WebRTC == "" {
		t.Fatalf("expected all three endpoints populated, got %+v", eps)
	}
}

func TestGetIceConfigCapsAtMaxAndSkipsInvalid(t *testing.T) {
	servers := make([]map[string]any, 0, 7)
	for i := 0; i < 6; i++ {
		servers = append(servers, map[string]any{
			"Uris": []string{"turn:1"}, "Username": "u", "Password": "p", "Ttl": 3600,
		})
	}
	servers = append(servers, map[string]any{"Uris": []string{}, "Ttl": 0})

	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"IceServerList": servers})
	})
	defer srv.Close()

	configs, err := c.GetIceConfig(context.Background(), srv.URL, "arn:1", "client-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(configs) != model.MaxIceConfigCount {
		t.Fatalf("expected %d configs, got %d", model.MaxIceConfigCount, len(configs))
	}
}

func TestCallMapsUnauthorizedToServiceCallNotAuthorized(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer srv.Close()

	_, err := c.DescribeChannel(context.Background(), srv.URL, model.ChannelInfo{ChannelName: "c"})
	if model.CodeOf(err) != model.ErrServiceCallNotAuthorized {
		t.Fatalf("expected ErrServiceCallNotAuthorized, got %v", err)
	}
}

func TestDeleteChannelHappyPath(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	if err := c.DeleteChannel(context.Background(), srv.URL, "arn:1", "v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
