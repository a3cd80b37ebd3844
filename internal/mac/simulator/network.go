package simulator

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
)

// JoinAccept holds the answer of the network to a join-request.
type JoinAccept struct {
	Accepted bool
	DevAddr  lorawan.DevAddr
}

// Uplink holds an uplink transmission as it would be received by a
// gateway.
type Uplink struct {
	PHYPayload lorawan.PHYPayload
	Channel    int
	Frequency  int
	DataRate   int
}

// Downlink holds a downlink transmission within one of the receive windows.
// A Port of 0 means the downlink does not carry application data.
type Downlink struct {
	ACK     bool
	Port    uint8
	Payload []byte
}

// Network defines the network side of the simulated radio link.
// HandleUplink returns nil when nothing is received within the receive
// windows.
type Network interface {
	HandleJoinRequest(ctx context.Context, phy lorawan.PHYPayload) (JoinAccept, error)
	HandleUplink(ctx context.Context, up Uplink) (*Downlink, error)
}

// LoopbackNetwork is a Network which accepts every join-request and
// acknowledges every confirmed uplink. Downlinks can be queued using
// Enqueue, optionally every uplink is echoed back.
type LoopbackNetwork struct {
	mu          sync.Mutex
	acceptJoins bool
	echo        bool
	queue       []Downlink
	uplinks     int
}

// NewLoopbackNetwork creates a new LoopbackNetwork.
func NewLoopbackNetwork(acceptJoins, echo bool) *LoopbackNetwork {
	return &LoopbackNetwork{
		acceptJoins: acceptJoins,
		echo:        echo,
	}
}

// Enqueue queues a downlink for the next uplink.
func (n *LoopbackNetwork) Enqueue(dl Downlink) {
	n.mu.Lock()
	defer n.mu.Unlock()

	dl.Payload = append([]byte(nil), dl.Payload...)
	n.queue = append(n.queue, dl)
}

// SetAcceptJoins sets if join-requests must be accepted.
func (n *LoopbackNetwork) SetAcceptJoins(accept bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.acceptJoins = accept
}

// SetEcho sets if uplinks must be echoed back.
func (n *LoopbackNetwork) SetEcho(echo bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.echo = echo
}

// Uplinks returns the number of received uplinks.
func (n *LoopbackNetwork) Uplinks() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.uplinks
}

// HandleJoinRequest accepts the join-request with a random DevAddr.
func (n *LoopbackNetwork) HandleJoinRequest(ctx context.Context, phy lorawan.PHYPayload) (JoinAccept, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if phy.MHDR.MType != lorawan.JoinRequest {
		return JoinAccept{}, errors.Errorf("expected join-request, got %v", phy.MHDR.MType)
	}

	if !n.acceptJoins {
		return JoinAccept{}, nil
	}

	var ja JoinAccept
	if _, err := rand.Read(ja.DevAddr[:]); err != nil {
		return ja, errors.Wrap(err, "read random bytes error")
	}
	ja.Accepted = true

	return ja, nil
}

// HandleUplink returns the first queued downlink, the echoed uplink or an
// acknowledgement in case of a confirmed uplink.
func (n *LoopbackNetwork) HandleUplink(ctx context.Context, up Uplink) (*Downlink, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.uplinks++

	macPL, ok := up.PHYPayload.MACPayload.(*lorawan.MACPayload)
	if !ok {
		return nil, errors.New("expected *lorawan.MACPayload")
	}
	confirmed := up.PHYPayload.MHDR.MType == lorawan.ConfirmedDataUp

	var dl *Downlink
	switch {
	case len(n.queue) != 0:
		d := n.queue[0]
		n.queue = n.queue[1:]
		dl = &d
	case n.echo && macPL.FPort != nil && *macPL.FPort != 0:
		dl = &Downlink{
			Port: *macPL.FPort,
		}
		if len(macPL.FRMPayload) == 1 {
			if pl, ok := macPL.FRMPayload[0].(*lorawan.DataPayload); ok {
				dl.Payload = append([]byte(nil), pl.Bytes...)
			}
		}
	case confirmed:
		dl = &Downlink{}
	}

	if dl != nil && confirmed {
		dl.ACK = true
	}

	return dl, nil
}
