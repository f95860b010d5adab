package model

import "time"

// SubscriptionState is the lifecycle state of a Subscription (spec.md §4.1).
type SubscriptionState string

const (
	StateActive SubscriptionState = "active"
	StatePaused SubscriptionState = "paused"
	StateError  SubscriptionState = "error"
)

// AuthKind enumerates how the engine authenticates to the database.
type AuthKind string

const (
	AuthIntegrated       AuthKind = "integrated"
	AuthUsernameSecret   AuthKind = "username_secret"
	AuthCloudInteractive AuthKind = "cloud_interactive"
	AuthCloudNonInteractive AuthKind = "cloud_noninteractive"
)

// DatabaseConnection describes how to reach the SQL Server database side of
// a subscription. Secret is an opaque, pre-encrypted blob: the engine never
// decrypts it, only passes it through to the connection factory.
type DatabaseConnection struct {
	Server          string
	Database        string
	Auth            AuthKind
	Username        string
	Secret          []byte
	TrustCertificate bool
	ConnectTimeout  time.Duration
}

// LayoutKind enumerates how a project folder organizes its .sql files.
type LayoutKind string

const (
	LayoutFlat              LayoutKind = "flat"
	LayoutBySchema          LayoutKind = "by_schema"
	LayoutByType            LayoutKind = "by_type"
	LayoutBySchemaAndType   LayoutKind = "by_schema_and_type"
)

// ProjectFolder describes the on-disk side of a subscription.
type ProjectFolder struct {
	Root     string
	Include  []string
	Exclude  []string
	Layout   LayoutKind
}

// Options controls comparison behavior for a subscription.
type Options struct {
	AutoCompare          bool
	CompareOnFileChange  bool
	CompareOnDatabaseChange bool
	ObjectTypes          map[ObjectType]bool // empty => all supported types
	IgnoreWhitespace     bool
	IgnoreComments       bool
}

// Allows reports whether t is permitted by the allow-set. An empty allow-set
// means "all supported types" per spec.md §3.
func (o Options) Allows(t ObjectType) bool {
	if len(o.ObjectTypes) == 0 {
		return t.IsSupported()
	}
	return o.ObjectTypes[t]
}

// HealthStatus is the derived overall health of a subscription (spec.md §4.5).
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// IssueType enumerates what aspect of a subscription's health is impaired.
type IssueType string

const (
	IssueDatabase IssueType = "database"
	IssueFolder   IssueType = "folder"
	IssueFiles    IssueType = "files"
)

// HealthIssue is one concrete problem surfaced in a health-changed event.
type HealthIssue struct {
	Type    IssueType
	Message string
	Since   time.Time
}

// SubscriptionHealth is the latest health check outcome for a subscription.
type SubscriptionHealth struct {
	DatabaseConnectable bool
	FolderAccessible    bool
	FilesPresent        bool
	LastChecked         time.Time
	LastError           string
	Overall             HealthStatus
	Issues              []HealthIssue
}

// DeriveOverall computes the overall status from the three booleans,
// per spec.md §4.5:
//
//	DB ok ∧ folder ok ∧ files present  => healthy
//	¬DB ok ∨ ¬folder ok                => unhealthy
//	DB ok ∧ folder ok ∧ ¬files         => degraded
//	otherwise                          => unknown
func (h SubscriptionHealth) DeriveOverall() HealthStatus {
	switch {
	case h.DatabaseConnectable && h.FolderAccessible && h.FilesPresent:
		return HealthHealthy
	case !h.DatabaseConnectable || !h.FolderAccessible:
		return HealthUnhealthy
	case h.DatabaseConnectable && h.FolderAccessible && !h.FilesPresent:
		return HealthDegraded
	default:
		return HealthUnknown
	}
}

// Subscription is the pairing of a database connection with a project
// folder, plus monitoring options (spec.md §3).
type Subscription struct {
	ID       ID
	Name     string
	Database DatabaseConnection
	Folder   ProjectFolder
	Options  Options
	State    SubscriptionState
	Health   SubscriptionHealth

	CreatedAt      time.Time
	UpdatedAt      time.Time
	PausedAt       *time.Time
	ResumedAt      *time.Time
	LastComparedAt *time.Time
}

// IsActive reports whether workers may observe or act on this subscription.
func (s *Subscription) IsActive() bool {
	return s.State == StateActive
}
