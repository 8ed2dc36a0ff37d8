package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationChannel is the delivery medium of a notification.
type NotificationChannel string

const (
	ChannelSMS   NotificationChannel = "sms"
	ChannelEmail NotificationChannel = "email"
)

// NotificationStatus tracks delivery of one notification.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "en_attente"
	// NotificationSending marks a synchronous send in progress. The outbox never claims it.
	NotificationSending NotificationStatus = "en_cours"
	NotificationSent    NotificationStatus = "envoye"
	NotificationFailed  NotificationStatus = "echoue"
)

// Notification is an outbound message recorded in the notification log.
type Notification struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Channel   NotificationChannel
	Recipient string
	// Subject is set for email only.
	Subject       string
	Message       string
	Status        NotificationStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     *string
	SentAt        *time.Time
	CreatedAt     time.Time
}
