package model

const (
	ConversationsTable = "Conversations"
	MessagesTable      = "Messages"
	QueueEntriesTable  = "QueueEntries"
	OperatorsTable     = "Operators"
)

const (
	RoleSuperadmin = "superadmin"
	RoleAdmin      = "admin"
)

// OperatorItem rows are provisioned by the identity tooling; the services
// only ever read role and active from them.
type OperatorItem struct {
	OperatorID string `dynamodbav:"operatorId"`
	Name       string `dynamodbav:"name,omitempty"`
	Email      string `dynamodbav:"email,omitempty"`
	Role       string `dynamodbav:"role"`
	Active     bool   `dynamodbav:"active"`
	CreatedAt  string `dynamodbav:"createdAt"`
}

func PrivilegedRole(role string) bool {
	return role == RoleSuperadmin || role == RoleAdmin
}
