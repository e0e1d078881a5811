package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func testCreds() *Credentials {
	return &Credentials{
		Legacy: []string{"legacy-key-1"},
		Metadata: []MetadataKey{
			{Key: "scoped-backend-key", AllowedRoles: []string{"backend"}, KeyID: "k1"},
			{Key: "scoped-any-key", AllowedRoles: nil, KeyID: "k2"},
		},
	}
}

func TestIsRoleAuthorized(t *testing.T) {
	creds := testCreds()

	tests := []struct {
		name string
		key  string
		role string
		want bool
	}{
		{"scoped key matches its role", "scoped-backend-key", "backend", true},
		{"scoped key rejects other role", "scoped-backend-key", "security", false},
		{"empty allowed_roles allows any role", "scoped-any-key", "qa", true},
		{"legacy key allows any role", "legacy-key-1", "devops", true},
		{"unknown key never authorizes", "not-a-real-key", "backend", false},
		{"empty key never authorizes", "", "backend", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := creds.IsRoleAuthorized(tt.key, tt.role); got != tt.want {
				t.Errorf("IsRoleAuthorized(%q, %q) = %v, want %v", tt.key, tt.role, got, tt.want)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	creds := testCreds()

	if !creds.Authenticate("legacy-key-1") {
		t.Error("expected legacy key to authenticate")
	}
	if !creds.Authenticate("scoped-backend-key") {
		t.Error("expected metadata key to authenticate")
	}
	if creds.Authenticate("bogus") {
		t.Error("expected unknown key to fail authentication")
	}
	if creds.Authenticate("") {
		t.Error("expected empty key to fail authentication")
	}
}

func TestKeyID_NeverExposesRawKey(t *testing.T) {
	creds := testCreds()
	if got := creds.KeyID("scoped-backend-key"); got != "k1" {
		t.Errorf("KeyID() = %q, want k1", got)
	}
	if got := creds.KeyID("legacy-key-1"); got != "" {
		t.Errorf("KeyID() for legacy key = %q, want empty (legacy keys carry no safe id)", got)
	}
}

func TestExtractCandidateKey_Precedence(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header map[string]string
		want   string
	}{
		{
			name: "query token wins over headers",
			url:  "/ws?token=from-query",
			header: map[string]string{
				"X-API-Key":     "from-header",
				"Authorization": "Bearer from-bearer",
			},
			want: "from-query",
		},
		{
			name: "header used when no query token",
			url:  "/ws",
			header: map[string]string{
				"X-API-Key": "from-header",
			},
			want: "from-header",
		},
		{
			name: "bearer used as last resort",
			url:  "/ws",
			header: map[string]string{
				"Authorization": "Bearer from-bearer",
			},
			want: "from-bearer",
		},
		{
			name: "none present",
			url:  "/ws",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := ExtractCandidateKey(req); got != tt.want {
				t.Errorf("ExtractCandidateKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
