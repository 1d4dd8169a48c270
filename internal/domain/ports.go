package domain

import "context"

// ChangeNotifier рассылает события изменения каталога.
// Notify не блокирует вызывающего и никогда не возвращает ошибку.
type ChangeNotifier interface {
	Notify(entity EntityTag, kind OperationKind, payload any)
}

// SubscriberRegistry доставляет закодированное событие всем текущим получателям.
type SubscriberRegistry interface {
	Broadcast(ctx context.Context, msg []byte)
}

// ChangeSink: один получатель закодированных событий (локальные подписчики, Kafka, Redis, AMQP).
type ChangeSink interface {
	// Name используется в логах и метриках.
	Name() string
	// Deliver отправляет сообщение; ошибка логируется реестром и дальше не уходит.
	Deliver(ctx context.Context, msg []byte) error
}
