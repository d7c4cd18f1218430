package events

// Default topic names. Deployments may override them through configuration.
const (
	TopicOrderStart              = "order.start"
	TopicOrderNotify             = "order.notify"
	TopicProductValidationInput  = "product-validation.input"
	TopicProductValidationOutput = "product-validation.output"
	TopicPaymentInput            = "payment.input"
	TopicPaymentOutput           = "payment.output"
	TopicInventoryInput          = "inventory.input"
	TopicInventoryOutput         = "inventory.output"
	TopicDeadLetter              = "saga.dead-letter"
)
