// Package tenantcache is a cache-aside store whose keys always carry a tenant.
// Deleting an entry is announced to the tenant's realtime clients.
package tenantcache

import (
	"strings"
	"time"

	"github.com/emergent-company/pilgrimops/pkg/apperror"
)

// Well-known resources and their TTLs.
const (
	ResourcePermissions = "permissions"
	ResourcePackages    = "packages"
	ResourceSettings    = "settings"
)

// DefaultTTL applies to resources without a specific TTL.
const DefaultTTL = 10 * time.Minute

var resourceTTLs = map[string]time.Duration{
	ResourcePermissions: 5 * time.Minute,
	ResourcePackages:    15 * time.Minute,
	ResourceSettings:    60 * time.Minute,
}

// Key builds tenant:{tenantID}:{resource}[:{id}]. It is the only way keys
// are made; a key without a tenant cannot be built. Tenant and resource may
// not contain ':' so one tenant's keys can never spell another's.
func Key(tenantID, resource, id string) (string, error) {
	if tenantID == "" {
		return "", apperror.ErrMissingTenant
	}
	if resource == "" {
		return "", apperror.NewBadRequest("cache resource is required")
	}
	if strings.Contains(tenantID, ":") || strings.Contains(resource, ":") {
		return "", apperror.NewBadRequest("tenant and resource may not contain ':'")
	}
	key := resourcePrefix(tenantID, resource)
	if id == "" {
		return key[:len(key)-1], nil
	}
	return key + id, nil
}

// resourcePrefix is the prefix shared by every id of one resource.
func resourcePrefix(tenantID, resource string) string {
	return "tenant:" + tenantID + ":" + resource + ":"
}
