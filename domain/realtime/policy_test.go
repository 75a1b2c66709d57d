package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/pilgrimops/pkg/apperror"
	"github.com/emergent-company/pilgrimops/pkg/auth"
)

func TestPolicy_Authorize(t *testing.T) {
	ctx := context.Background()
	p := NewPolicy()

	tests := []struct {
		name    string
		role    auth.Role
		types   []EventType
		allowed bool
	}{
		{name: "agent open types", role: auth.RoleAgent, types: []EventType{EventLeadAssigned, EventDocumentUploaded}, allowed: true},
		{name: "agent payment approval", role: auth.RoleAgent, types: []EventType{EventPaymentApproved}},
		{name: "staff job progress", role: auth.RoleStaff, types: []EventType{EventJobProgress}},
		{name: "manager mixed batch", role: auth.RoleManager, types: []EventType{EventLeadUpdated, EventCommissionPayoutApproved}},
		{name: "admin restricted", role: auth.RoleAdmin, types: []EventType{EventPaymentApproved, EventCacheInvalidated}, allowed: true},
		{name: "super admin restricted", role: auth.RoleSuperAdmin, types: []EventType{EventJobFailed}, allowed: true},
		{name: "no types", role: auth.RoleStaff, allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Authorize(ctx, auth.Identity{UserID: "u1", TenantID: "t1", Role: tt.role}, tt.types, "")
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, apperror.ErrPermissionDenied)
		})
	}
}

func TestPolicy_DeniedTypeIsNamed(t *testing.T) {
	err := NewPolicy().Authorize(context.Background(),
		auth.Identity{UserID: "u1", TenantID: "t1", Role: auth.RoleAgent},
		[]EventType{EventLeadAssigned, EventCommissionPayoutApproved}, "")

	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, string(EventCommissionPayoutApproved), appErr.Details["eventType"])
	assert.Equal(t, "agent", appErr.Details["role"])
}

func TestPolicy_Options(t *testing.T) {
	ctx := context.Background()
	staff := auth.Identity{UserID: "u1", TenantID: "t1", Role: auth.RoleStaff}

	p := NewPolicy(
		WithRestricted(EventCommissionEarned),
		WithEntityAccess(func(_ context.Context, id auth.Identity, entityID string) bool {
			return entityID == "lead-"+id.UserID
		}),
	)
	assert.True(t, p.Restricted(EventCommissionEarned))
	assert.False(t, p.Restricted(EventLeadAssigned))

	assert.ErrorIs(t, p.Authorize(ctx, staff, []EventType{EventCommissionEarned}, ""), apperror.ErrPermissionDenied)
	assert.NoError(t, p.Authorize(ctx, staff, []EventType{EventLeadUpdated}, "lead-u1"))
	assert.ErrorIs(t, p.Authorize(ctx, staff, []EventType{EventLeadUpdated}, "lead-u2"), apperror.ErrPermissionDenied)

	// nil hook keeps the tenant-wide default
	assert.NoError(t, NewPolicy(WithEntityAccess(nil)).Authorize(ctx, staff, nil, "anything"))
}
