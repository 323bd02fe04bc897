package azureauth

import (
	"fmt"
	"strings"
)

// ModeKind names a credential source.
type ModeKind string

const (
	ModeDefault           ModeKind = "default"
	ModeDeviceCode        ModeKind = "device_code"
	ModeManagedIdentity   ModeKind = "managed_identity"
	ModeClientSecret      ModeKind = "client_secret"
	ModeClientCertificate ModeKind = "client_certificate"
	ModeAzureCLI          ModeKind = "azure_cli"
	ModeEnvironment       ModeKind = "environment"
)

// ParseModeKind parses a mode name. The empty string means ModeDefault.
func ParseModeKind(s string) (ModeKind, error) {
	k := ModeKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case "":
		return ModeDefault, nil
	case ModeDefault, ModeDeviceCode, ModeManagedIdentity, ModeClientSecret,
		ModeClientCertificate, ModeAzureCLI, ModeEnvironment:
		return k, nil
	case "environment_credential":
		return ModeEnvironment, nil
	}
	return "", fmt.Errorf("unknown azure auth mode %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ModeKind) UnmarshalText(b []byte) error {
	parsed, err := ParseModeKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Mode selects how a Credential obtains tokens. Which fields are read
// depends on Kind:
//
//   - device_code: TenantID, ClientID
//   - managed_identity: ClientID (optional, for user-assigned identities)
//   - client_secret: TenantID, ClientID, ClientSecret (falls back to AZURE_CLIENT_SECRET)
//   - client_certificate: TenantID, ClientID, CertificatePath, CertificatePassword
type Mode struct {
	Kind                ModeKind `yaml:"mode" json:"mode"`
	TenantID            string   `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	ClientID            string   `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret        string   `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`
	CertificatePath     string   `yaml:"certificate_path,omitempty" json:"certificate_path,omitempty"`
	CertificatePassword string   `yaml:"certificate_password,omitempty" json:"certificate_password,omitempty"`
}

func (m Mode) String() string {
	if m.Kind == "" {
		return string(ModeDefault)
	}
	return string(m.Kind)
}

// Cloud is an Azure cloud environment.
type Cloud string

const (
	CloudPublic       Cloud = "public"
	CloudUSGovernment Cloud = "us_government"
	CloudChina        Cloud = "china"
	// CloudCustom uses public endpoints unless Scope and Authority are set.
	CloudCustom Cloud = "custom"
)

// Default scope and authority for the public cloud.
const (
	DefaultScope     = "https://cognitiveservices.azure.com/.default"
	DefaultAuthority = "https://login.microsoftonline.com"
)

// Authority returns the cloud's login endpoint.
func (c Cloud) Authority() string {
	switch c {
	case CloudUSGovernment:
		return "https://login.microsoftonline.us"
	case CloudChina:
		return "https://login.chinacloudapi.cn"
	default:
		return DefaultAuthority
	}
}

// Scope returns the cloud's Cognitive Services scope.
func (c Cloud) Scope() string {
	switch c {
	case CloudUSGovernment:
		return "https://cognitiveservices.azure.us/.default"
	case CloudChina:
		return "https://cognitiveservices.azure.cn/.default"
	default:
		return DefaultScope
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Cloud) UnmarshalText(b []byte) error {
	switch s := Cloud(strings.ToLower(strings.TrimSpace(string(b)))); s {
	case "":
		*c = CloudPublic
	case CloudPublic, CloudUSGovernment, CloudChina, CloudCustom:
		*c = s
	default:
		return fmt.Errorf("unknown azure cloud %q", string(b))
	}
	return nil
}

// Config describes an Azure Entra ID credential. The zero value is the
// default credential chain on the public cloud.
type Config struct {
	Mode      `yaml:",inline"`
	Cloud     Cloud  `yaml:"cloud,omitempty" json:"cloud,omitempty"`
	Scope     string `yaml:"scope,omitempty" json:"scope,omitempty"`
	Authority string `yaml:"authority,omitempty" json:"authority,omitempty"`
}

// NewDefaultConfig returns a Config for the default credential chain.
func NewDefaultConfig() Config {
	return Config{Mode: Mode{Kind: ModeDefault}, Cloud: CloudPublic, Scope: DefaultScope}
}

// NewDeviceCodeConfig returns a Config for interactive device code login.
func NewDeviceCodeConfig(tenantID, clientID string) Config {
	c := NewDefaultConfig()
	c.Mode = Mode{Kind: ModeDeviceCode, TenantID: tenantID, ClientID: clientID}
	return c
}

// NewManagedIdentityConfig returns a Config for managed identity. An empty
// clientID selects the system-assigned identity.
func NewManagedIdentityConfig(clientID string) Config {
	c := NewDefaultConfig()
	c.Mode = Mode{Kind: ModeManagedIdentity, ClientID: clientID}
	return c
}

// NewClientSecretConfig returns a Config for a service principal secret.
func NewClientSecretConfig(tenantID, clientID, secret string) Config {
	c := NewDefaultConfig()
	c.Mode = Mode{Kind: ModeClientSecret, TenantID: tenantID, ClientID: clientID, ClientSecret: secret}
	return c
}

// WithCloud switches clouds. The scope follows the cloud unless it was
// changed from the current cloud's default.
func (c Config) WithCloud(cloud Cloud) Config {
	if c.Scope == "" || c.Scope == c.Cloud.Scope() {
		c.Scope = cloud.Scope()
	}
	c.Cloud = cloud
	return c
}

// WithScope overrides the token scope.
func (c Config) WithScope(scope string) Config {
	c.Scope = scope
	return c
}

// WithAuthority overrides the login endpoint.
func (c Config) WithAuthority(authority string) Config {
	c.Authority = authority
	return c
}

// EffectiveScope returns the explicit scope, or the cloud's default.
func (c Config) EffectiveScope() string {
	if c.Scope != "" {
		return c.Scope
	}
	return c.Cloud.Scope()
}

// EffectiveAuthority returns the explicit authority, or the cloud's
// default, without a trailing slash.
func (c Config) EffectiveAuthority() string {
	if c.Authority != "" {
		return strings.TrimRight(c.Authority, "/")
	}
	return c.Cloud.Authority()
}
