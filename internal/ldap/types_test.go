package ldap

import (
	"testing"
)

func TestConnectionConfig_GetAuthMethod(t *testing.T) {
	tests := []struct {
		name     string
		config   *ConnectionConfig
		expected AuthMethod
	}{
		{
			name:     "bind dn and password",
			config:   &ConnectionConfig{Username: "cn=provisiond,dc=example,dc=com", Password: "secret"},
			expected: AuthMethodSimpleBind,
		},
		{
			name:     "kerberos keytab",
			config:   &ConnectionConfig{KerberosRealm: "EXAMPLE.COM", KerberosKeytab: "/etc/provisiond.keytab"},
			expected: AuthMethodKerberos,
		},
		{
			name:     "kerberos wins over simple bind",
			config:   &ConnectionConfig{Username: "provisiond", Password: "secret", KerberosRealm: "EXAMPLE.COM"},
			expected: AuthMethodKerberos,
		},
		{
			name:     "client certificate",
			config:   &ConnectionConfig{TLSClientCertFile: "/tls/client.pem", TLSClientKeyFile: "/tls/client.key"},
			expected: AuthMethodExternal,
		},
		{
			name:     "nothing configured",
			config:   &ConnectionConfig{},
			expected: AuthMethodSimpleBind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.GetAuthMethod(); got != tt.expected {
				t.Errorf("GetAuthMethod() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestConnectionConfig_HasAuthentication(t *testing.T) {
	tests := []struct {
		name   string
		config *ConnectionConfig
		want   bool
	}{
		{"password", &ConnectionConfig{Username: "u", Password: "p"}, true},
		{"username only", &ConnectionConfig{Username: "u"}, false},
		{"kerberos with user", &ConnectionConfig{Username: "u", KerberosRealm: "EXAMPLE.COM"}, true},
		{"realm only", &ConnectionConfig{KerberosRealm: "EXAMPLE.COM"}, false},
		{"certificate pair", &ConnectionConfig{TLSClientCertFile: "c", TLSClientKeyFile: "k"}, true},
		{"certificate without key", &ConnectionConfig{TLSClientCertFile: "c"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.HasAuthentication(); got != tt.want {
				t.Errorf("HasAuthentication() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthMethod_String(t *testing.T) {
	for method, want := range map[AuthMethod]string{
		AuthMethodSimpleBind: "simple",
		AuthMethodKerberos:   "kerberos",
		AuthMethodExternal:   "external",
		AuthMethod(99):       "unknown",
	} {
		if got := method.String(); got != want {
			t.Errorf("AuthMethod(%d).String() = %q, want %q", method, got, want)
		}
	}
}

func TestSearchScope_String(t *testing.T) {
	for scope, want := range map[SearchScope]string{
		ScopeBaseObject:   "base",
		ScopeSingleLevel:  "one",
		ScopeWholeSubtree: "sub",
		SearchScope(7):    "unknown",
	} {
		if got := scope.String(); got != want {
			t.Errorf("SearchScope(%d).String() = %q, want %q", scope, got, want)
		}
	}
}

func TestModifyRequest_IsEmpty(t *testing.T) {
	if !(&ModifyRequest{DN: "cn=x"}).IsEmpty() {
		t.Error("request without changes should be empty")
	}
	if !(&ModifyRequest{DN: "cn=x", Assertion: "(cn=x)"}).IsEmpty() {
		t.Error("an assertion alone is not a change")
	}
	if (&ModifyRequest{DN: "cn=x", DeleteAttributes: []string{"description"}}).IsEmpty() {
		t.Error("attribute removal is a change")
	}
	if (&ModifyRequest{DN: "cn=x", ReplaceAttributes: map[string][]string{"description": {}}}).IsEmpty() {
		t.Error("clearing replacement is a change")
	}
}
