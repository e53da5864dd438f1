package models

// Role is the closed set of agent roles.
type Role string

const (
	RoleCOO      Role = "coo"
	RoleTeamLead Role = "team_lead"
	RoleWorker   Role = "worker"
)

// AgentStatus is mutated only by the agent's own runtime.
type AgentStatus string

const (
	AgentIdle     AgentStatus = "idle"
	AgentThinking AgentStatus = "thinking"
	AgentDone     AgentStatus = "done"
	AgentError    AgentStatus = "error"
)

// Column is a kanban column. Tasks flow backlog -> in_progress -> done.
type Column string

const (
	ColumnBacklog    Column = "backlog"
	ColumnInProgress Column = "in_progress"
	ColumnDone       Column = "done"
)

// Valid reports whether c is one of the three board columns.
func (c Column) Valid() bool {
	switch c {
	case ColumnBacklog, ColumnInProgress, ColumnDone:
		return true
	}
	return false
}

// MessageType tags a bus message.
type MessageType string

const (
	MessageDirective      MessageType = "directive"
	MessageReport         MessageType = "report"
	MessageChat           MessageType = "chat"
	MessageStatusRequest  MessageType = "status_request"
	MessageStatusResponse MessageType = "status_response"
)

// WorktreeStatus tracks a worker branch from creation to cleanup.
type WorktreeStatus string

const (
	WorktreeActive    WorktreeStatus = "active"
	WorktreeMerged    WorktreeStatus = "merged"
	WorktreeConflict  WorktreeStatus = "conflict"
	WorktreeAbandoned WorktreeStatus = "abandoned"
)

// Project statuses.
const (
	ProjectActive    = "active"
	ProjectCompleted = "completed"
	ProjectDeleted   = "deleted"
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes   = 1 << 20 // 1 MiB
	DefaultMessageListLimit      = 500
	DefaultSSEChannelBuffer      = 256
	DefaultMaxWorkers            = 4
	DefaultMaxContinuationCycles = 10
	DefaultMaxToolRounds         = 25
)
