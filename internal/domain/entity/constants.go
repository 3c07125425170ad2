package entity

// Notification status constants
const (
	NotificationStatusPending = "PENDING"
	NotificationStatusSent    = "SENT"
	NotificationStatusFailed  = "FAILED"
)

// SystemActor is recorded when an entry is mutated without a manager action
const SystemActor = "system"

// Language tags understood by the scorer and prompt builder
const (
	LanguageEnglish = "en"
	LanguageSpanish = "es"
	LanguageFrench  = "fr"
	LanguageChinese = "zh"
)

// Default thresholds
const (
	DefaultTimeoutThresholdHours = 36
	DefaultWarningWindowHours    = 6
	DefaultApprovalTimeoutHours  = 24
	DefaultExpectedWorkflowSteps = 6
)
