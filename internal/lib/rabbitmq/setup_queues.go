package rabbitmq

// QueueConfig описывает очередь и ключ маршрутизации.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
	// DeadLetter включает очередь отклонённых сообщений <QueueName>.dlq.
	DeadLetter bool
}

// ReconciliationQueues возвращает очереди для ручной сверки платежей.
func ReconciliationQueues(routingKey string) []QueueConfig {
	return []QueueConfig{
		{QueueName: "entitlement." + routingKey, RoutingKey: routingKey, DeadLetter: true},
	}
}
