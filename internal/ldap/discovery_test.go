package ldap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSRVDiscovery_DiscoverServers(t *testing.T) {
	discovery := NewSRVDiscovery(t.Context())

	_, err := discovery.DiscoverServers(t.Context(), "")
	assert.Error(t, err, "empty domain")

	// .invalid never resolves, so both standard ports are tried on the
	// domain name itself, ldaps first.
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	servers, err := discovery.DiscoverServers(ctx, "directory.invalid")
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "ldaps://directory.invalid:636", ServerInfoToURL(servers[0]))
	assert.Equal(t, "ldap://directory.invalid:389", ServerInfoToURL(servers[1]))
	for _, server := range servers {
		assert.Equal(t, "fallback", server.Source)
		assert.NoError(t, ValidateServerInfo(server))
	}
}

func TestParseLDAPURL(t *testing.T) {
	tests := []struct {
		url     string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{url: "ldaps://mail-ldap.example.com:3269", host: "mail-ldap.example.com", port: 3269, tls: true},
		{url: "ldap://mail-ldap.example.com:1389", host: "mail-ldap.example.com", port: 1389},
		{url: "LDAPS://mail-ldap.example.com", host: "mail-ldap.example.com", port: 636, tls: true},
		{url: "ldap://[2001:db8::10]", host: "2001:db8::10", port: 389},
		{url: "", wantErr: true},
		{url: "https://mail-ldap.example.com", wantErr: true},
		{url: "ldap://mail-ldap.example.com:abc", wantErr: true},
		{url: "ldap://mail-ldap.example.com:70000", wantErr: true},
		{url: "ldap:///dc=example,dc=com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := ParseLDAPURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, got.Host)
			assert.Equal(t, tt.port, got.Port)
			assert.Equal(t, tt.tls, got.UseTLS)
			assert.Equal(t, "config", got.Source)
		})
	}
}

func TestValidateServerInfo(t *testing.T) {
	tests := []struct {
		name   string
		server *ServerInfo
		valid  bool
	}{
		{"valid", &ServerInfo{Host: "ldap1.example.com", Port: 636, Weight: 100}, true},
		{"nil", nil, false},
		{"no host", &ServerInfo{Port: 636}, false},
		{"port zero", &ServerInfo{Host: "ldap1.example.com"}, false},
		{"port out of range", &ServerInfo{Host: "ldap1.example.com", Port: 65536}, false},
		{"negative priority", &ServerInfo{Host: "ldap1.example.com", Port: 389, Priority: -1}, false},
		{"negative weight", &ServerInfo{Host: "ldap1.example.com", Port: 389, Weight: -1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServerInfo(tt.server)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSortServersByPriority(t *testing.T) {
	servers := []*ServerInfo{
		{Host: "replica-b", Priority: 10, Weight: 50},
		{Host: "master-b", Priority: 0, Weight: 20},
		{Host: "replica-a", Priority: 10, Weight: 100},
		{Host: "master-a", Priority: 0, Weight: 80},
		{Host: "replica-c", Priority: 10, Weight: 50},
	}

	sortServersByPriority(servers)

	var order []string
	for _, s := range servers {
		order = append(order, s.Host)
	}
	// Equal weights keep their DNS order.
	assert.Equal(t, []string{"master-a", "master-b", "replica-a", "replica-b", "replica-c"}, order)
}
