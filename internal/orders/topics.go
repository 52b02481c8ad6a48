package orders

const (
	TopicOrderPaid              = "order.paid"
	TopicOrderStatusChanged     = "order.status_changed"
	TopicReconciliationConflict = "order.reconciliation_conflict"
)

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
