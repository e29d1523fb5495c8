package orders

// TopicOrderEvents carries every lifecycle event for every order.
const TopicOrderEvents = "order.events"

// Partition key = order_id, so all events of one order stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
