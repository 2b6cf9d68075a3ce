package config

import (
	"testing"
	"time"
)

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{name: "unset uses default", value: "", want: 25},
		{name: "valid integer", value: "50", want: 50},
		{name: "garbage falls back to default", value: "lots", want: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DB_MAX_OPEN_CONNS", tt.value)
			if got := getEnvAsInt("DB_MAX_OPEN_CONNS", 25); got != tt.want {
				t.Errorf("getEnvAsInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("PROVIDER_REQUEST_TIMEOUT", "90s")
	if got := getEnvAsDuration("PROVIDER_REQUEST_TIMEOUT", 5*time.Minute); got != 90*time.Second {
		t.Errorf("getEnvAsDuration() = %v, want 90s", got)
	}
	if got := getEnvAsDuration("UNSET_DURATION", 5*time.Minute); got != 5*time.Minute {
		t.Errorf("getEnvAsDuration() default = %v, want 5m", got)
	}
}
