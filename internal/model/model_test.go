package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidPhone(t *testing.T) {
	valid := []string{"+221771234567", "+221781234567", "+221701234567", "+221761234567", "+221751234567"}
	for _, p := range valid {
		assert.True(t, ValidPhone(p), p)
	}
	invalid := []string{"", "771234567", "+221791234567", "+22177123456", "+2217712345678", "+221 771234567", "+33771234567"}
	for _, p := range invalid {
		assert.False(t, ValidPhone(p), p)
	}
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+221771234567", NormalizePhone("77 123 45 67"))
	assert.Equal(t, "+221771234567", NormalizePhone(" +221 77 123 45 67 "))
	assert.Equal(t, "+33612345678", NormalizePhone("+33612345678"))
	assert.Equal(t, "12345", NormalizePhone("12345"))
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "+2*********67", MaskPhone("+221771234567"))
	assert.Equal(t, "****", MaskPhone("123"))
}

func TestSourcesFor(t *testing.T) {
	assert.Equal(t, []TransactionStatus{StatusPending}, SourcesFor(StatusSubmitted))
	assert.Equal(t, []TransactionStatus{StatusSubmitted}, SourcesFor(StatusSuccess), "settlement must be submitted first")
	assert.ElementsMatch(t, []TransactionStatus{StatusPending, StatusSubmitted}, SourcesFor(StatusFailed))
	assert.Equal(t, []TransactionStatus{StatusPending}, SourcesFor(StatusCancelled))
	assert.Empty(t, SourcesFor(StatusPending))
}

func TestAccountOTPVerified(t *testing.T) {
	now := time.Now()
	var a Account
	assert.False(t, a.OTPVerified(now, time.Hour))

	at := now.Add(-30 * time.Minute)
	a.OTPVerifiedAt = &at
	assert.True(t, a.OTPVerified(now, time.Hour))
	assert.False(t, a.OTPVerified(now, 10*time.Minute))
	assert.True(t, a.OTPVerified(now, 0))
}

func TestOtpCredentialExpired(t *testing.T) {
	now := time.Now()
	c := OtpCredential{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, c.Expired(now))
	assert.True(t, c.Expired(now.Add(time.Minute)))
}
