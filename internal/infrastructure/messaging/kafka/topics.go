package kafka

// Topic names for saga events
const (
	TopicAccountCreated       = "banking.accounts.created"
	TopicSagaRequests         = "banking.commands.saga-requests"
	TopicSagaCompleted        = "banking.sagas.completed"
	TopicTransactionRejected  = "banking.transactions.rejected"
)

// GetAllTopics returns list of all topics
func GetAllTopics() []string {
	return []string{
		TopicAccountCreated,
		TopicSagaRequests,
		TopicSagaCompleted,
		TopicTransactionRejected,
	}
}
