package clockskew

import (
	"testing"
	"time"

	"github.com/kvs-signaling/core/internal/model"
)

func TestObserveIgnoresWithinThreshold(t *testing.T) {
	tbl := NewTable()
	device := time.Date(2025, 6, 27, 12, 27, 54, 0, time.UTC)
	server := device.Add(2 * time.Minute)
	tbl.Observe(model.EndpointControlPlane, model.StateDescribe, server, device)
	if tbl.Get(model.EndpointControlPlane, model.StateDescribe) != 0 {
		t.Fatal("expected no correction within threshold")
	}
}

func TestObserveRecordsBeyondThreshold(t *testing.T) {
	tbl := NewTable()
	device := time.Date(2025, 6, 27, 12, 27, 54, 0, time.UTC)
	server := device.Add(5 * time.Minute)
	tbl.Observe(model.EndpointControlPlane, model.StateDescribe, server, device)

	got := tbl.Correct(model.EndpointControlPlane, model.StateDescribe, device)
	if !got.Equal(server) {
		t.Fatalf("expected corrected time %v, got %v", server, got)
	}
}

func TestSkewTrackedIndependentlyPerEndpointKind(t *testing.T) {
	tbl := NewTable()
	device := time.Now().UTC()
	tbl.Observe(model.EndpointControlPlane, model.StateDescribe, device.Add(10*time.Minute), device)
	if tbl.Get(model.EndpointData, model.StateDescribe) != 0 {
		t.Fatal("WSS endpoint skew should not be affected by REST endpoint skew")
	}
}

func TestClearWipesTable(t *testing.T) {
	tbl := NewTable()
	device := time.Now().UTC()
	tbl.Observe(model.EndpointControlPlane, model.StateDescribe, device.Add(10*time.Minute), device)
	tbl.Clear()
	if tbl.Get(model.EndpointControlPlane, model.StateDescribe) != 0 {
		t.Fatal("expected clear to wipe recorded skew")
	}
}
