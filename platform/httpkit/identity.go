// Package httpkit provides HTTP utilities including identity abstraction.
package httpkit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity represents the authenticated caller's identity.
// This interface abstracts identity extraction from the web framework,
// allowing handlers to access caller information without depending on Gin.
type Identity interface {
	// SubjectID returns the authenticated caller's ID (user or service account).
	SubjectID() uuid.UUID
	// TenantID returns the tenant the caller is scoped to.
	TenantID() uuid.UUID
	// Roles returns the caller's assigned roles.
	Roles() []string
	// HasRole checks if the caller has a specific role.
	HasRole(role string) bool
	// IsService reports whether the caller is a machine account
	// (chatbot trigger, board backend) rather than an end-user session.
	IsService() bool
	// IsAuthenticated returns true if the caller is authenticated.
	IsAuthenticated() bool
}

// identity is the concrete implementation of Identity.
type identity struct {
	subjectID     uuid.UUID
	tenantID      uuid.UUID
	roles         []string
	authenticated bool
}

func (i *identity) SubjectID() uuid.UUID {
	return i.subjectID
}

func (i *identity) TenantID() uuid.UUID {
	return i.tenantID
}

func (i *identity) Roles() []string {
	return i.roles
}

func (i *identity) HasRole(role string) bool {
	for _, r := range i.roles {
		if r == role {
			return true
		}
	}
	return false
}

func (i *identity) IsService() bool {
	return i.HasRole(RoleService)
}

func (i *identity) IsAuthenticated() bool {
	return i.authenticated
}

// GetIdentity extracts the Identity from a Gin context.
// Returns an unauthenticated identity if caller info is not present.
func GetIdentity(c *gin.Context) Identity {
	subjectID, subjectOK := c.Get(ContextUserIDKey)
	roles, rolesOK := c.Get(ContextRolesKey)
	tenantID, tenantOK := c.Get(ContextTenantIDKey)

	if !subjectOK || !tenantOK {
		return &identity{authenticated: false}
	}

	sid, ok := subjectID.(uuid.UUID)
	if !ok {
		return &identity{authenticated: false}
	}

	tid, ok := tenantID.(uuid.UUID)
	if !ok {
		return &identity{authenticated: false}
	}

	var roleList []string
	if rolesOK {
		roleList, _ = roles.([]string)
	}

	return &identity{
		subjectID:     sid,
		tenantID:      tid,
		roles:         roleList,
		authenticated: true,
	}
}

// MustGetIdentity extracts the Identity from a Gin context.
// If the caller is not authenticated, it aborts with 401 Unauthorized and returns nil.
func MustGetIdentity(c *gin.Context) Identity {
	id := GetIdentity(c)
	if !id.IsAuthenticated() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil
	}
	return id
}
