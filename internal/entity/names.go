package entity

// Common directory attributes.
const (
	AttrObjectClass     = "objectClass"
	AttrCreateTimestamp = "createTimestamp"
	AttrCN              = "cn"
	AttrUID             = "uid"
	AttrMail            = "mail"
	AttrDC              = "dc"
	AttrOU              = "ou"
	AttrO               = "o"
	AttrSN              = "sn"
	AttrDisplayName     = "displayName"
	AttrUserPassword    = "userPassword"
	AttrDescription     = "description"
)

// Service attributes shared by every kind.
const (
	AttrID   = "gwId"
	AttrName = "gwName"
)

// Account attributes.
const (
	AttrAccountStatus            = "gwAccountStatus"
	AttrCOSID                    = "gwCOSId"
	AttrMailAlias                = "gwMailAlias"
	AttrIsSystemAccount          = "gwIsSystemAccount"
	AttrIsExternalVirtualAccount = "gwIsExternalVirtualAccount"
	AttrForeignPrincipal         = "gwForeignPrincipal"
	AttrPasswordModifiedTime     = "gwPasswordModifiedTime"
	AttrAutoProvisionedFrom      = "gwAutoProvisionedFrom"
	AttrMailQuota                = "gwMailQuota"
)

// Domain attributes.
const (
	AttrDomainName                 = "gwDomainName"
	AttrDomainType                 = "gwDomainType"
	AttrDomainStatus               = "gwDomainStatus"
	AttrDomainDefaultCOSID         = "gwDomainDefaultCOSId"
	AttrDomainMaxAccounts          = "gwDomainMaxAccounts"
	AttrDomainCOSMaxAccounts       = "gwDomainCOSMaxAccounts"
	AttrDomainFeatureMaxAccounts   = "gwDomainFeatureMaxAccounts"
	AttrForeignName                = "gwForeignName"
	AttrForeignNameHandler         = "gwForeignNameHandler"
	AttrVirtualHostname            = "gwVirtualHostname"
	AttrAuthMech                   = "gwAuthMech"
	AttrAutoProvMode               = "gwAutoProvMode"
	AttrAutoProvLock               = "gwAutoProvLock"
	AttrAutoProvLastPolled         = "gwAutoProvLastPolledTimestamp"
	AttrAutoProvBatchSize          = "gwAutoProvBatchSize"
	AttrAutoProvLdapURL            = "gwAutoProvLdapURL"
	AttrAutoProvLdapStartTLS       = "gwAutoProvLdapStartTlsEnabled"
	AttrAutoProvLdapAdminBindDN    = "gwAutoProvLdapAdminBindDn"
	AttrAutoProvLdapAdminBindPass  = "gwAutoProvLdapAdminBindPassword"
	AttrAutoProvLdapSearchBase     = "gwAutoProvLdapSearchBase"
	AttrAutoProvLdapSearchFilter   = "gwAutoProvLdapSearchFilter"
	AttrAutoProvLdapKerberosRealm  = "gwAutoProvLdapKerberosRealm"
	AttrAutoProvAccountNameMap     = "gwAutoProvAccountNameMap"
	AttrAutoProvAttrMap            = "gwAutoProvAttrMap"
	AttrAutoProvNotificationSender = "gwAutoProvNotificationFromAddress"
)

// Server, feature and global-kind attributes.
const (
	AttrServiceHostname             = "gwServiceHostname"
	AttrAutoProvScheduledDomains    = "gwAutoProvScheduledDomains"
	AttrAutoProvPollingInterval     = "gwAutoProvPollingInterval"
	AttrServiceEnabled              = "gwServiceEnabled"
	AttrShareLocatorOwnerAccountID  = "gwShareOwnerAccountId"
	AttrXMPPComponentCategory       = "gwXMPPComponentCategory"
	AttrXMPPComponentType           = "gwXMPPComponentType"
	AttrMimeType                    = "gwMimeType"
	AttrMimeFileExtension           = "gwMimeFileExtension"
	AttrCOSFeaturePrefix            = "gwFeature"
	AttrFeatureMobileSyncEnabled    = "gwFeatureMobileSyncEnabled"
	AttrFeatureMAPIConnectorEnabled = "gwFeatureMAPIConnectorEnabled"
)

// Object classes.
const (
	ClassAccount       = "gwAccount"
	ClassDomain        = "gwDomain"
	ClassCOS           = "gwCOS"
	ClassServer        = "gwServer"
	ClassGroup         = "gwDistributionList"
	ClassShareLocator  = "gwShareLocator"
	ClassXMPPComponent = "gwXMPPComponent"
	ClassMimeType      = "gwMimeEntry"
	ClassInetOrgPerson = "inetOrgPerson"
	ClassDCObject      = "dcObject"
	ClassOrganization  = "organization"
	ClassOrgUnit       = "organizationalUnit"
)

// ObjectClass returns the service object class of a kind.
func (k Kind) ObjectClass() string {
	switch k {
	case KindAccount:
		return ClassAccount
	case KindDomain:
		return ClassDomain
	case KindCOS:
		return ClassCOS
	case KindServer:
		return ClassServer
	case KindGroup:
		return ClassGroup
	case KindShareLocator:
		return ClassShareLocator
	case KindXMPPComponent:
		return ClassXMPPComponent
	case KindMimeType:
		return ClassMimeType
	default:
		return ""
	}
}

// Auto-provisioning modes stored in AttrAutoProvMode.
const (
	AutoProvEager  = "EAGER"
	AutoProvLazy   = "LAZY"
	AutoProvManual = "MANUAL"
)

// Account status values.
const (
	StatusActive      = "active"
	StatusLocked      = "locked"
	StatusMaintenance = "maintenance"
	StatusClosed      = "closed"
)
