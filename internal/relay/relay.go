package relay

import (
	"context"

	"github.com/MamunCrafts/video-chat-app/internal/registry"
	"github.com/MamunCrafts/video-chat-app/internal/store"
	"github.com/MamunCrafts/video-chat-app/pkg/protocol"
	"go.uber.org/zap"
)

// Appender is the slice of the persistence gateway the relay needs.
type Appender interface {
	Append(ctx context.Context, senderID, receiverID, content string) (*store.Message, error)
}

// MessageRelay persists a submitted message and fans the canonical record out
// to both participants' personal channels. Delivery is at-most-once and
// best-effort: persistence failures are logged and silently dropped, offline
// recipients catch up via the history endpoint.
type MessageRelay struct {
	log     *zap.Logger
	gateway Appender
	conns   registry.ConnectionRegistry
	metrics *relayMetrics
}

// NewMessageRelay wires the relay's collaborators.
func NewMessageRelay(log *zap.Logger, gateway Appender, conns registry.ConnectionRegistry, metrics *relayMetrics) *MessageRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageRelay{log: log, gateway: gateway, conns: conns, metrics: metrics}
}

// Submit runs one persist+fanout operation. It returns the persisted record,
// or nil when the submission was rejected or the write failed; no error
// reaches the sender either way.
func (r *MessageRelay) Submit(ctx context.Context, senderID, receiverID, content string) *store.Message {
	if senderID == "" || receiverID == "" {
		r.log.Warn("dropping message without participants",
			zap.String("sender_id", senderID),
			zap.String("receiver_id", receiverID))
		r.metrics.recordDroppedSubmit()
		return nil
	}

	msg, err := r.gateway.Append(ctx, senderID, receiverID, content)
	if err != nil {
		r.log.Error("persist message failed; dropping",
			zap.Error(err),
			zap.String("sender_id", senderID),
			zap.String("receiver_id", receiverID))
		r.metrics.recordPersistFailure()
		return nil
	}
	r.metrics.recordPersisted()

	payload, err := protocol.EncodeFrame(protocol.EventReceiveMessage, NewMessageRecord(*msg))
	if err != nil {
		r.log.Error("encode message record", zap.Error(err), zap.String("message_id", msg.ID))
		return msg
	}

	delivered := r.conns.Fanout(receiverID, payload)
	// The sender's own channel gets the record too, so the sender's other
	// devices stay in sync; the originating client suppresses the echo.
	delivered += r.conns.Fanout(senderID, payload)
	r.metrics.recordFanout(delivered)

	r.log.Debug("message relayed",
		zap.String("message_id", msg.ID),
		zap.Int("deliveries", delivered))
	return msg
}
