package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirprov/internal/entity"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provisiond.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, ":9464", cfg.Metrics.Listen)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 15*time.Minute, cfg.AutoProv.PollInterval)
	assert.Equal(t, time.Minute, cfg.Quota.RecheckInterval)
	assert.Equal(t, "ou=people", cfg.DIT.AccountContainer)
	assert.True(t, cfg.Cache.Enabled)

	err := Validate(cfg)
	require.Error(t, err, "a directory is required")
	assert.Contains(t, err.Error(), "URLs")

	cfg.Directory.URLs = []string{"ldap://localhost:389"}
	err = Validate(cfg)
	require.Error(t, err, "credentials are required")
	assert.Contains(t, err.Error(), "kerberos_realm")

	cfg.Directory.KerberosRealm = "EXAMPLE.COM"
	assert.NoError(t, Validate(cfg))
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  subsystems:
    ldap: trace
directory:
  urls: ["ldaps://ldap1.example.com", "ldaps://ldap2.example.com"]
  bind_dn: cn=admin,cn=gw
  bind_password: secret
  start_tls: false
dit:
  mail_branch_base: ou=mail,o=corp
cache:
  account:
    max_entries: 50
    max_age: 2m
schema:
  extra_object_classes:
    account: [corpPerson]
autoprov:
  scheduled_domains: [example.com]
  poll_interval: 0s
quota:
  threshold: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, map[string]string{"ldap": "trace"}, cfg.Logging.Subsystems)
	assert.Equal(t, []string{"ldaps://ldap1.example.com", "ldaps://ldap2.example.com"}, cfg.Directory.URLs)
	assert.False(t, cfg.Directory.StartTLS)
	assert.Equal(t, "ou=mail,o=corp", cfg.DIT.MailBranchBase)
	assert.Equal(t, "uid", cfg.DIT.NamingAttr, "unset keys keep their defaults")
	assert.Equal(t, 50, cfg.Cache.Account.MaxEntries)
	assert.Equal(t, 2*time.Minute, cfg.Cache.Account.MaxAge)
	assert.Equal(t, []string{"example.com"}, cfg.AutoProv.ScheduledDomains)
	assert.Zero(t, cfg.AutoProv.PollInterval, "explicit zero disables polling")
	assert.Zero(t, cfg.Quota.Threshold)

	classes, err := cfg.Schema.ObjectClasses()
	require.NoError(t, err)
	assert.Equal(t, map[entity.Kind][]string{entity.KindAccount: {"corpPerson"}}, classes)

	conn := cfg.Directory.ConnectionConfig()
	assert.Equal(t, "cn=admin,cn=gw", conn.Username)
	assert.Equal(t, "secret", conn.Password)
	assert.False(t, conn.UseTLS)
}

func TestLoadEnvironment(t *testing.T) {
	path := writeConfig(t, `
directory:
  urls: [ldap://file.example.com]
  bind_dn: cn=admin,cn=gw
  bind_password: secret
quota:
  threshold: 3
`)
	t.Setenv("PROVISIOND_DIRECTORY_URLS", "ldap://env1.example.com,ldap://env2.example.com")
	t.Setenv("PROVISIOND_QUOTA_THRESHOLD", "9")
	t.Setenv("PROVISIOND_AUTOPROV_NODE_ID", "node-7")
	t.Setenv("PROVISIOND_CACHE_DOMAIN_MAX_AGE", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ldap://env1.example.com", "ldap://env2.example.com"}, cfg.Directory.URLs)
	assert.Equal(t, 9, cfg.Quota.Threshold)
	assert.Equal(t, "node-7", cfg.AutoProv.NodeID)
	assert.Equal(t, 90*time.Second, cfg.Cache.Domain.MaxAge)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "bad log level",
			body: "directory: {urls: [ldap://a], kerberos_realm: EXAMPLE.COM}\nlogging: {level: loud}",
			want: "Level",
		},
		{
			name: "negative interval",
			body: "directory: {urls: [ldap://a], kerberos_realm: EXAMPLE.COM}\nquota: {recheck_interval: -1s}",
			want: "RecheckInterval",
		},
		{
			name: "unknown kind",
			body: "directory: {urls: [ldap://a], kerberos_realm: EXAMPLE.COM}\nschema: {extra_object_classes: {widget: [x]}}",
			want: "widget",
		},
		{
			name: "broken tree layout",
			body: "directory: {urls: [ldap://a], kerberos_realm: EXAMPLE.COM}\ndit: {cos_base: 'not a dn'}",
			want: "dit",
		},
		{
			name: "no credentials",
			body: "directory: {urls: [ldap://a]}",
			want: "bind_dn",
		},
		{
			name: "bad url",
			body: "directory: {urls: ['::nope'], kerberos_realm: EXAMPLE.COM}",
			want: "URLs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
