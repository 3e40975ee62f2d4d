package attrmgr

import (
	"github.com/isometry/dirprov/internal/entity"
)

// Type is the syntax of an attribute value.
type Type int

const (
	TypeString Type = iota
	TypeInteger
	TypeBoolean
	TypeEnum
	TypeEmail
	TypeDuration
	TypeGeneralizedTime
	TypeID
)

var typeNames = [...]string{"string", "integer", "boolean", "enum", "email", "duration", "gentime", "id"}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// AttributeInfo declares how an attribute is validated.
type AttributeInfo struct {
	Name string
	Type Type
	// Min and Max bound integers, or the length of strings. A zero Max
	// means unbounded.
	Min, Max    int64
	Values      []string
	Immutable   bool
	MultiValued bool
	// Kinds is the mask of entity kinds carrying the attribute.
	Kinds entity.Kind
}

const (
	domainScoped = entity.KindAccount | entity.KindGroup
	everyKind    = entity.AllKinds
)

// BuiltinSchema returns the attributes managed by the service itself.
func BuiltinSchema() []AttributeInfo {
	return []AttributeInfo{
		{Name: entity.AttrID, Type: TypeID, Immutable: true, Kinds: everyKind},
		{Name: entity.AttrName, Type: TypeString, Max: 256, Kinds: everyKind},
		{Name: entity.AttrCN, Type: TypeString, Max: 256, Kinds: everyKind},
		{Name: entity.AttrUID, Type: TypeString, Min: 1, Max: 256, Kinds: domainScoped},
		{Name: entity.AttrMail, Type: TypeEmail, MultiValued: true, Kinds: domainScoped},
		{Name: entity.AttrSN, Type: TypeString, Max: 256, Kinds: entity.KindAccount},
		{Name: entity.AttrDisplayName, Type: TypeString, Max: 256, Kinds: domainScoped | entity.KindCOS},
		{Name: entity.AttrDescription, Type: TypeString, Max: 1024, MultiValued: true, Kinds: everyKind},
		{Name: entity.AttrUserPassword, Type: TypeString, Max: 1024, Kinds: entity.KindAccount},

		{Name: entity.AttrAccountStatus, Type: TypeEnum, Values: []string{
			entity.StatusActive, entity.StatusLocked, entity.StatusMaintenance, entity.StatusClosed,
		}, Kinds: entity.KindAccount},
		{Name: entity.AttrCOSID, Type: TypeID, Kinds: entity.KindAccount},
		{Name: entity.AttrMailAlias, Type: TypeEmail, MultiValued: true, Kinds: domainScoped},
		{Name: entity.AttrIsSystemAccount, Type: TypeBoolean, Kinds: entity.KindAccount},
		{Name: entity.AttrIsExternalVirtualAccount, Type: TypeBoolean, Kinds: entity.KindAccount},
		{Name: entity.AttrForeignPrincipal, Type: TypeString, MultiValued: true, Kinds: entity.KindAccount},
		{Name: entity.AttrPasswordModifiedTime, Type: TypeGeneralizedTime, Kinds: entity.KindAccount},
		{Name: entity.AttrAutoProvisionedFrom, Type: TypeString, Immutable: true, Kinds: entity.KindAccount},
		{Name: entity.AttrMailQuota, Type: TypeInteger, Min: 0, Kinds: entity.KindAccount | entity.KindCOS},
		{Name: entity.AttrFeatureMobileSyncEnabled, Type: TypeBoolean, Kinds: entity.KindAccount | entity.KindCOS},
		{Name: entity.AttrFeatureMAPIConnectorEnabled, Type: TypeBoolean, Kinds: entity.KindAccount | entity.KindCOS},

		{Name: entity.AttrDomainName, Type: TypeString, Immutable: true, Kinds: entity.KindDomain},
		{Name: entity.AttrDomainType, Type: TypeEnum, Values: []string{"local", "alias"}, Kinds: entity.KindDomain},
		{Name: entity.AttrDomainStatus, Type: TypeEnum, Values: []string{
			entity.StatusActive, entity.StatusLocked, entity.StatusMaintenance, entity.StatusClosed, "suspended",
		}, Kinds: entity.KindDomain},
		{Name: entity.AttrDomainDefaultCOSID, Type: TypeID, Kinds: entity.KindDomain},
		{Name: entity.AttrDomainMaxAccounts, Type: TypeInteger, Min: 0, Kinds: entity.KindDomain},
		{Name: entity.AttrDomainCOSMaxAccounts, Type: TypeString, MultiValued: true, Kinds: entity.KindDomain},
		{Name: entity.AttrDomainFeatureMaxAccounts, Type: TypeString, MultiValued: true, Kinds: entity.KindDomain},
		{Name: entity.AttrForeignName, Type: TypeString, MultiValued: true, Kinds: entity.KindDomain},
		{Name: entity.AttrForeignNameHandler, Type: TypeString, MultiValued: true, Kinds: entity.KindDomain},
		{Name: entity.AttrVirtualHostname, Type: TypeString, MultiValued: true, Kinds: entity.KindDomain},
		{Name: entity.AttrAuthMech, Type: TypeEnum, Values: []string{"local", "ldap", "kerberos5", "custom"}, Kinds: entity.KindDomain},

		{Name: entity.AttrAutoProvMode, Type: TypeEnum, MultiValued: true, Values: []string{
			entity.AutoProvEager, entity.AutoProvLazy, entity.AutoProvManual,
		}, Kinds: entity.KindDomain},
		{Name: entity.AttrAutoProvLock, Type: TypeString, Kinds: entity.KindDomain},
		{Name: entity.AttrAutoProvLastPolled, Type: TypeGeneralizedTime, Kinds: entity.KindDomain},
		{Name: entity.AttrAutoProvBatchSize, Type: TypeInteger, Min: 1, Max: 5000, Kinds: entity.KindDomain},
		{Name: entity.AttrAutoProvLdapURL, Type: TypeString, Kinds: entity.KindDomain},
		{Name: entity.AttrAutoProvLdapStartTLS, Type: TypeBoolean, Kinds: entity.KindDomain},
		{Name: entity.AttrAutoProvLdapAdminBindDN, Type: TypeString, Kinds: entity.KindDomain},
		{Name: entity.AttrAutoProvLdapAdminBindPass, Type: TypeString, Kinds: entity.KindDomain},
		{Name: entity.AttrAutoProvLdapSearchBase, Type: TypeString, Kinds: entity.KindDomain},
		{Name: entity.AttrAutoProvLdapSearchFilter, Type: TypeString, Kinds: entity.KindDomain},
		{Name: entity.AttrAutoProvLdapKerberosRealm, Type: TypeString, Kinds: entity.KindDomain},
		{Name: entity.AttrAutoProvAccountNameMap, Type: TypeString, Kinds: entity.KindDomain},
		{Name: entity.AttrAutoProvAttrMap, Type: TypeString, MultiValued: true, Kinds: entity.KindDomain},
		{Name: entity.AttrAutoProvNotificationSender, Type: TypeEmail, Kinds: entity.KindDomain},

		{Name: entity.AttrServiceHostname, Type: TypeString, Kinds: entity.KindServer},
		{Name: entity.AttrServiceEnabled, Type: TypeString, MultiValued: true, Kinds: entity.KindServer},
		{Name: entity.AttrAutoProvScheduledDomains, Type: TypeString, MultiValued: true, Kinds: entity.KindServer},
		{Name: entity.AttrAutoProvPollingInterval, Type: TypeDuration, Kinds: entity.KindServer},
		{Name: entity.AttrShareLocatorOwnerAccountID, Type: TypeID, Kinds: entity.KindShareLocator},
		{Name: entity.AttrXMPPComponentCategory, Type: TypeString, Kinds: entity.KindXMPPComponent},
		{Name: entity.AttrXMPPComponentType, Type: TypeString, Kinds: entity.KindXMPPComponent},
		{Name: entity.AttrMimeType, Type: TypeString, MultiValued: true, Kinds: entity.KindMimeType},
		{Name: entity.AttrMimeFileExtension, Type: TypeString, MultiValued: true, Kinds: entity.KindMimeType},
	}
}
