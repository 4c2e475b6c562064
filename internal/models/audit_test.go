package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuditActionValid(t *testing.T) {
	assert.True(t, AuditActionFeePayment.Valid())
	assert.True(t, AuditActionStartedNewYear.Valid())
	assert.False(t, AuditAction("Dropped table").Valid())
	assert.False(t, AuditAction("fee payment").Valid())
}

func TestClaimsPrincipal(t *testing.T) {
	var nilClaims *JWTClaims
	assert.Nil(t, nilClaims.Principal("1.1.1.1"))

	p := (&JWTClaims{UserID: "a1", FullName: "Admin", Role: RoleAdmin}).Principal("10.0.0.1")
	assert.True(t, p.Valid())
	assert.Equal(t, "10.0.0.1", p.IP)

	var empty *Principal
	assert.False(t, empty.Valid())
}
