package telemetry

import (
	"context"
	"testing"

	"github.com/coachpo/replay/config"
)

func TestInitWithoutEndpointInstallsNoop(t *testing.T) {
	providers, shutdown, err := Init(context.Background(), config.TelemetrySettings{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if providers.MeterProvider == nil {
		t.Fatalf("meter provider missing")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		raw      string
		host     string
		insecure bool
	}{
		{"https://collector:4318", "collector:4318", false},
		{"http://collector:4318", "collector:4318", true},
		{"collector:4318", "collector:4318", true},
	}
	for _, tc := range cases {
		host, insecure, err := parseEndpoint(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if host != tc.host || insecure != tc.insecure {
			t.Fatalf("parse %q = %s insecure=%v", tc.raw, host, insecure)
		}
	}
}
