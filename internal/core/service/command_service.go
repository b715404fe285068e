package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/qr-fulfillment/internal/core/domain"
	"github.com/rl1809/qr-fulfillment/internal/port"
)

const commandHelp = "Commands:\n" +
	"  id            show your user id\n" +
	"  qr <orderId>  get the code image of an order\n" +
	"  status <orderId>  show the status of an order"

// CommandService answers the short text commands users send over the chat channel.
type CommandService struct {
	orders port.OrderRepository
	media  *MediaGateway
	logger *zap.Logger
}

func NewCommandService(orders port.OrderRepository, media *MediaGateway, logger *zap.Logger) *CommandService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandService{orders: orders, media: media, logger: logger}
}

// Interpret turns one message into a reply. It never fails: lookup errors are
// logged and answered as "not found".
func (c *CommandService) Interpret(ctx context.Context, userID, text string) domain.Notification {
	if userID == "" {
		return domain.Notification{Text: "This command only works in a one-to-one chat."}
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return domain.Notification{Text: commandHelp}
	}

	switch cmd := strings.ToLower(fields[0]); cmd {
	case "id", "uid":
		return domain.Notification{Text: fmt.Sprintf("Your user id: %s", userID)}
	case "qr", "status":
		if len(fields) < 2 {
			return domain.Notification{Text: fmt.Sprintf("Usage: %s <orderId>", cmd)}
		}
		return c.orderReply(ctx, cmd, userID, fields[1])
	default:
		return domain.Notification{Text: commandHelp}
	}
}

func (c *CommandService) orderReply(ctx context.Context, cmd, userID, orderID string) domain.Notification {
	order, err := c.orders.GetOrder(ctx, userID, orderID)
	if err != nil {
		c.logger.Warn("command order lookup failed",
			zap.String("user_id", userID),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
	if err != nil || order == nil {
		return domain.Notification{Text: fmt.Sprintf("Order %s not found.", orderID)}
	}

	if cmd == "status" {
		return domain.Notification{Text: fmt.Sprintf("Order %s: %s", orderID, order.Status)}
	}
	if order.ArtifactRef == "" {
		return domain.Notification{Text: fmt.Sprintf("The code for order %s is not registered yet.", orderID)}
	}
	mediaURL := c.media.MediaURL(userID, orderID)
	return domain.Notification{
		ImageURL:     mediaURL,
		FallbackText: fmt.Sprintf("Code for order %s: %s", orderID, mediaURL),
	}
}
