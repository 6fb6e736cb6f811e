package monitor

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/sirupsen/logrus"

	"github.com/vbus-sim/vbus/wire"
)

// defaultQueuePoll is how often Recv retries an empty queue.
const defaultQueuePoll = 500 * time.Millisecond

// AzureQueueBus is an alternate CommandSender / status transport for
// deployments where the system controller and the participants it monitors
// run in separate processes with no direct mesh link between them (e.g. a
// controller triggered by an external orchestrator): commands and status
// travel as base64-encoded wire frames through a pair of Azure Storage
// Queues, grounded on the same enqueue/dequeue idiom transport's teacher
// ancestor used for its handshake bootstrap, here repurposed for system
// command/status delivery instead of connection setup.
type AzureQueueBus struct {
	ctx  context.Context
	send *azqueue.QueueClient
	recv *azqueue.QueueClient
	log  logrus.FieldLogger
	poll time.Duration
}

// NewAzureQueueBus wraps two already-created queue clients: send is the
// queue this side enqueues onto, recv is the queue it dequeues from. A
// controller's send queue is its participants' recv queue, and vice versa.
func NewAzureQueueBus(ctx context.Context, send, recv *azqueue.QueueClient) *AzureQueueBus {
	return &AzureQueueBus{ctx: ctx, send: send, recv: recv, log: logrus.StandardLogger(), poll: defaultQueuePoll}
}

// Send implements CommandSender: network and src are ignored, since each
// queue carries exactly one logical channel (spec §4.7 commands, or a
// participant's own status reports on the reverse pairing).
func (b *AzureQueueBus) Send(_ string, _ wire.EndpointAddress, tag wire.MessageTag, body []byte) {
	frame := wire.EncodeIBMessage(wire.IBMessage{Network: SystemNetwork, Tag: tag, Body: body})
	text := base64.StdEncoding.EncodeToString(frame)
	if _, err := b.send.EnqueueMessage(b.ctx, text, nil); err != nil {
		b.log.WithError(err).Warn("monitor: azqueue bus enqueue failed")
	}
}

// Recv blocks, polling at b.poll, for the next message and decodes it back
// into an IBMessage, deleting it from the queue once consumed.
func (b *AzureQueueBus) Recv() (wire.IBMessage, error) {
	for {
		resp, err := b.recv.DequeueMessages(b.ctx, &azqueue.DequeueMessagesOptions{NumberOfMessages: to.Ptr[int32](1)})
		if err != nil {
			return wire.IBMessage{}, err
		}
		if len(resp.Messages) == 0 {
			select {
			case <-b.ctx.Done():
				return wire.IBMessage{}, b.ctx.Err()
			case <-time.After(b.poll):
				continue
			}
		}
		msg := resp.Messages[0]
		if _, err := b.recv.DeleteMessage(b.ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
			b.log.WithError(err).Warn("monitor: azqueue bus delete failed")
		}
		if msg.MessageText == nil {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(*msg.MessageText)
		if err != nil {
			continue
		}
		return wire.DecodeIBMessage(raw)
	}
}

// Close is a no-op: the queue clients outlive the bus and are owned by the
// caller that constructed them.
func (b *AzureQueueBus) Close() error { return nil }

var _ CommandSender = (*AzureQueueBus)(nil)
