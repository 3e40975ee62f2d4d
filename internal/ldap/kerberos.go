package ldap

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// performKerberosAuth performs a GSSAPI bind on an LDAP connection.
func performKerberosAuth(conn *ldap.Conn, cfg *ConnectionConfig, serverInfo *ServerInfo) error {
	if err := prepareKerberosConfig(cfg); err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	krb5conf, cleanup, err := resolveKrb5Conf(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	gssapiClient, err := createGSSAPIClient(cfg, krb5conf)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn, err := buildServicePrincipal(cfg, serverInfo)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}
	return nil
}

// createGSSAPIClient creates a GSSAPI client.
// Priority order: credential cache, keytab, password.
func createGSSAPIClient(cfg *ConnectionConfig, krb5conf string) (*gssapi.Client, error) {

	switch {
	case cfg.KerberosCCache != "" && fileExists(cfg.KerberosCCache):
		return gssapi.NewClientFromCCache(cfg.KerberosCCache, krb5conf, krb5client.DisablePAFXFAST(true))
	case cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab):
		return gssapi.NewClientWithKeytab(cfg.Username, cfg.KerberosRealm, cfg.KerberosKeytab, krb5conf, krb5client.DisablePAFXFAST(true))
	case cfg.Password != "":
		return gssapi.NewClientWithPassword(cfg.Username, cfg.KerberosRealm, cfg.Password, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if ccache := defaultCCachePath(); fileExists(ccache) {
		return gssapi.NewClientFromCCache(ccache, krb5conf, krb5client.DisablePAFXFAST(true))
	}
	return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication")
}

// buildServicePrincipal returns ldap/<host> unless an explicit SPN is configured.
func buildServicePrincipal(cfg *ConnectionConfig, serverInfo *ServerInfo) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("configuration is required for service principal")
	}
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}
	if serverInfo == nil || serverInfo.Host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}
	return "ldap/" + serverInfo.Host, nil
}

// prepareKerberosConfig splits user@REALM principals and checks that a
// realm and principal are set.
func prepareKerberosConfig(cfg *ConnectionConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if user, realm, ok := strings.Cut(cfg.Username, "@"); ok && cfg.KerberosRealm == "" {
		cfg.Username, cfg.KerberosRealm = user, realm
	}
	if cfg.KerberosRealm == "" {
		return fmt.Errorf("kerberos realm is required")
	}
	if cfg.Username == "" {
		return fmt.Errorf("username (principal) is required for Kerberos authentication")
	}
	return nil
}

// resolveKrb5Conf returns the krb5.conf to use. With none configured and
// none installed, a minimal configuration relying on DNS KDC discovery is
// written to a temporary file which cleanup removes.
func resolveKrb5Conf(cfg *ConnectionConfig) (path string, cleanup func(), err error) {
	cleanup = func() {}
	if cfg.KerberosConfig != "" {
		if !fileExists(cfg.KerberosConfig) {
			return "", cleanup, fmt.Errorf("kerberos configuration file not found at %s", cfg.KerberosConfig)
		}
		return cfg.KerberosConfig, cleanup, nil
	}
	if fileExists(defaultKrb5Conf) {
		return defaultKrb5Conf, cleanup, nil
	}

	f, err := os.CreateTemp("", "provisiond-krb5-*.conf")
	if err != nil {
		return "", cleanup, fmt.Errorf("failed to write runtime krb5.conf: %w", err)
	}
	cleanup = func() { _ = os.Remove(f.Name()) }
	_, err = f.WriteString(runtimeKrb5Conf(cfg.KerberosRealm, cfg.Domain))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("failed to write runtime krb5.conf: %w", err)
	}
	return f.Name(), cleanup, nil
}

// runtimeKrb5Conf renders a krb5.conf mapping domain to realm with KDCs
// located through DNS SRV records.
func runtimeKrb5Conf(realm, domain string) string {
	realm = strings.ToUpper(realm)
	if domain == "" {
		domain = realm
	}
	domain = strings.ToLower(domain)

	return fmt.Sprintf(`[libdefaults]
    default_realm = %[1]s
    dns_lookup_kdc = true
    dns_lookup_realm = false
    rdns = false
    forwardable = true

[realms]
    %[1]s = {
    }

[domain_realm]
    .%[2]s = %[1]s
    %[2]s = %[1]s
`, realm, domain)
}

// defaultCCachePath returns the default credential cache location.
func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}
