package rabbitmq

// QueueConfig описывает очередь уведомлений и её ключ маршрутизации.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// Имена очередей исходящих уведомлений.
const (
	QueueSubscriptionActivated = "notification.subscription_activated"
	QueueCommissionEarned      = "notification.commission_earned"
)

// GetNotificationQueues возвращает очереди, которые слушает сервис отправки.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: QueueSubscriptionActivated, RoutingKey: "subscription_activated"},
		{QueueName: QueueCommissionEarned, RoutingKey: "commission_earned"},
	}
}
