package domain

import "time"

// NotificationType identifies what a notification is about.
type NotificationType string

// Notification types.
const (
	NotificationTypeRecipeSubmitted    NotificationType = "recipe_submitted"
	NotificationTypeRecipeApproved     NotificationType = "recipe_approved"
	NotificationTypeRecipeRejected     NotificationType = "recipe_rejected"
	NotificationTypeRecipeCommented    NotificationType = "recipe_commented"
	NotificationTypeRecipeLiked        NotificationType = "recipe_liked"
	NotificationTypeReviewRequested    NotificationType = "review_requested"
	NotificationTypeNewFollower        NotificationType = "new_follower"
	NotificationTypeWeeklySummary      NotificationType = "weekly_summary"
	NotificationTypeSystemAnnouncement NotificationType = "system_announcement"
	NotificationTypeSecurityAlert      NotificationType = "security_alert"
	NotificationTypePasswordChanged    NotificationType = "password_changed"
	NotificationTypeAccountUpdate      NotificationType = "account_update"
)

// TypeInfo holds the static flags attached to a notification type.
type TypeInfo struct {
	// External types leave the application (email, SMS).
	External bool
	// RequiresAction types ask the recipient to do something.
	RequiresAction bool
	// Priority types are enqueued with high priority unless the caller says otherwise.
	Priority bool
	// Digestible types may be deferred into a digest.
	Digestible bool
	// Subscribable types obey the user's subscription list.
	Subscribable bool
}

var notificationTypes = map[NotificationType]TypeInfo{
	NotificationTypeRecipeSubmitted:    {External: false, RequiresAction: false, Priority: false, Digestible: true, Subscribable: true},
	NotificationTypeRecipeApproved:     {External: true, RequiresAction: false, Priority: false, Digestible: true, Subscribable: true},
	NotificationTypeRecipeRejected:     {External: true, RequiresAction: true, Priority: true, Digestible: false, Subscribable: true},
	NotificationTypeRecipeCommented:    {External: false, RequiresAction: false, Priority: false, Digestible: true, Subscribable: true},
	NotificationTypeRecipeLiked:        {External: false, RequiresAction: false, Priority: false, Digestible: true, Subscribable: true},
	NotificationTypeReviewRequested:    {External: true, RequiresAction: true, Priority: true, Digestible: false, Subscribable: true},
	NotificationTypeNewFollower:        {External: false, RequiresAction: false, Priority: false, Digestible: true, Subscribable: true},
	NotificationTypeWeeklySummary:      {External: true, RequiresAction: false, Priority: false, Digestible: true, Subscribable: true},
	NotificationTypeSystemAnnouncement: {External: true, RequiresAction: false, Priority: false, Digestible: false, Subscribable: false},
	NotificationTypeSecurityAlert:      {External: true, RequiresAction: true, Priority: true, Digestible: false, Subscribable: false},
	NotificationTypePasswordChanged:    {External: true, RequiresAction: false, Priority: true, Digestible: false, Subscribable: false},
	NotificationTypeAccountUpdate:      {External: true, RequiresAction: false, Priority: false, Digestible: false, Subscribable: false},
}

// IsValid checks if the notification type is known.
func (t NotificationType) IsValid() bool {
	_, ok := notificationTypes[t]
	return ok
}

// Info returns the static flags of the type. Unknown types have all flags unset.
func (t NotificationType) Info() TypeInfo {
	return notificationTypes[t]
}

// NotificationTypes returns every known notification type.
func NotificationTypes() []NotificationType {
	types := make([]NotificationType, 0, len(notificationTypes))
	for t := range notificationTypes {
		types = append(types, t)
	}
	return types
}

// Priority is the delivery priority of a queued notification.
type Priority string

// Priorities.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// IsValid checks if the priority is valid.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Channel is the medium a notification is delivered over.
type Channel string

// Channels.
const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

// IsValid checks if the channel is valid.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelInApp:
		return true
	}
	return false
}

// Frequency is how often a user wants to receive notifications.
type Frequency string

// Frequencies.
const (
	FrequencyInstant       Frequency = "instant"
	FrequencyDailyDigest   Frequency = "daily_digest"
	FrequencyWeeklyDigest  Frequency = "weekly_digest"
	FrequencyMonthlyDigest Frequency = "monthly_digest"
)

// IsValid checks if the frequency is valid.
func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyInstant, FrequencyDailyDigest, FrequencyWeeklyDigest, FrequencyMonthlyDigest:
		return true
	}
	return false
}

// Notification is an internal (in-app) notification shown in the user's inbox.
type Notification struct {
	ID         string
	UserID     string
	Type       NotificationType
	Title      string
	Message    string
	ActionURL  string
	IsRead     bool
	ReadAt     *time.Time
	IsArchived bool
	ArchivedAt *time.Time
	CreatedAt  time.Time
}
