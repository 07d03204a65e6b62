// Package notify содержит доставку уведомлений клиентам.
// Почтовый транспорт — внешний компонент; LogNotifier используется,
// пока он не подключён.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/Stan7771213/paytapper-sub000/internal/model"
)

// LogNotifier записывает уведомления в журнал вместо отправки наружу.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier создаёт нотификатор, пишущий в указанный журнал.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyReadyToReceive сообщает клиенту, что его счёт готов принимать выплаты.
func (n *LogNotifier) NotifyReadyToReceive(_ context.Context, client *model.Client) error {
	n.logger.Info("client ready to receive direct payouts",
		zap.Int64("client_id", client.ID),
		zap.String("login", client.Login),
	)
	return nil
}

// DeliverResetToken доставляет клиенту сырой токен сброса пароля.
// Сам токен в журнал не попадает.
func (n *LogNotifier) DeliverResetToken(_ context.Context, client *model.Client, _ string) error {
	n.logger.Info("password reset token issued",
		zap.Int64("client_id", client.ID),
		zap.String("login", client.Login),
	)
	return nil
}
