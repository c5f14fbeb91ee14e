package forwarder

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wudi/protogate/internal/dto"
)

func TestStats_SuccessRateAndAvgDuration(t *testing.T) {
	s := Stats{Attempted: 4, Succeeded: 3, Failed: 1, TotalDurationMS: 400}
	if rate := s.SuccessRate(); rate != 0.75 {
		t.Errorf("SuccessRate() = %v, want 0.75", rate)
	}
	if avg := s.AvgDurationMS(); avg != 100 {
		t.Errorf("AvgDurationMS() = %v, want 100", avg)
	}
}

func TestStats_ZeroAttempted(t *testing.T) {
	s := Stats{}
	if s.SuccessRate() != 0 || s.AvgDurationMS() != 0 {
		t.Errorf("zero-attempted Stats should report zero rate/avg, got %+v", s)
	}
}

func TestBuildAuthHeader_APIKey(t *testing.T) {
	name, value, err := buildAuthHeader(dto.AuthConfig{Type: dto.AuthAPIKey, APIKeyHeader: "X-Api-Key", APIKeyValue: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	if name != "X-Api-Key" || value != "secret" {
		t.Errorf("got (%q, %q)", name, value)
	}
}

func TestBuildAuthHeader_BearerStaticToken(t *testing.T) {
	name, value, err := buildAuthHeader(dto.AuthConfig{Type: dto.AuthBearer, Token: "abc123"})
	if err != nil {
		t.Fatal(err)
	}
	if name != "Authorization" || value != "Bearer abc123" {
		t.Errorf("got (%q, %q)", name, value)
	}
}

func TestBuildAuthHeader_BearerJWTIsSignedAndValid(t *testing.T) {
	cfg := dto.AuthConfig{
		Type: dto.AuthBearer,
		BearerJWT: &dto.BearerJWTConfig{
			Secret:   "shhh",
			Issuer:   "protogate",
			Subject:  "target-1",
			Audience: "downstream",
			TTL:      time.Minute,
		},
	}
	name, value, err := buildAuthHeader(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if name != "Authorization" {
		t.Fatalf("name = %q, want Authorization", name)
	}
	tokenStr := value[len("Bearer "):]
	parsed, err := jwt.Parse(tokenStr, func(*jwt.Token) (interface{}, error) { return []byte("shhh"), nil })
	if err != nil || !parsed.Valid {
		t.Fatalf("signed token did not verify: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["iss"] != "protogate" || claims["sub"] != "target-1" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestBuildAuthHeader_NoneType(t *testing.T) {
	name, value, err := buildAuthHeader(dto.AuthConfig{Type: dto.AuthNone})
	if err != nil {
		t.Fatal(err)
	}
	if name != "" || value != "" {
		t.Errorf("expected empty header for AuthNone, got (%q, %q)", name, value)
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateClosing:      "closing",
		StateError:        "error",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestResolveTopic_FillsAndStripsPlaceholders(t *testing.T) {
	payload := map[string]interface{}{
		"data_source_id": "sensor-1",
		"message_id":     "m-1",
	}
	got := resolveTopic("devices/{source_id}/events/{message_id}/{unresolved}", payload)
	want := "devices/sensor-1/events/m-1/"
	if got != want {
		t.Errorf("resolveTopic() = %q, want %q", got, want)
	}
}

func TestResolveTopic_NoPlaceholdersPassesThrough(t *testing.T) {
	got := resolveTopic("devices/out", map[string]interface{}{})
	if got != "devices/out" {
		t.Errorf("resolveTopic() = %q, want unchanged", got)
	}
}
