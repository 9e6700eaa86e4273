package tracing

import (
	"context"
	"testing"
)

func TestNewProviderDisabled(t *testing.T) {
	p, err := NewProvider(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.IsEnabled() {
		t.Error("IsEnabled() = true, want false")
	}
	if p.Tracer("test") == nil {
		t.Error("Tracer() returned nil for disabled provider")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewProviderValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "missing service name",
			cfg:  Config{Enabled: true, SamplingRate: 0.5},
		},
		{
			name: "sampling rate above 1",
			cfg:  Config{Enabled: true, ServiceName: "authbridge", SamplingRate: 1.5},
		},
		{
			name: "negative sampling rate",
			cfg:  Config{Enabled: true, ServiceName: "authbridge", SamplingRate: -0.1},
		},
		{
			name: "unknown exporter",
			cfg:  Config{Enabled: true, ServiceName: "authbridge", SamplingRate: 0.5, ExporterType: "jaeger"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProvider(tt.cfg); err == nil {
				t.Error("NewProvider() succeeded, want error")
			}
		})
	}
}

func TestStartDBSpanEndsWithoutPanic(t *testing.T) {
	ctx, end := StartDBSpan(context.Background(), "audit_log", DBOperationInsert)
	if ctx == nil {
		t.Fatal("StartDBSpan() returned nil context")
	}
	end(nil)

	_, end = StartAnchorSpan(context.Background(), "commit", 7)
	end(context.DeadlineExceeded)
}
