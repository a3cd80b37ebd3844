package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/brocaar/chirpstack-end-device/internal/hal"
	"github.com/brocaar/chirpstack-end-device/internal/mac"
	"github.com/brocaar/chirpstack-end-device/internal/test"
	"github.com/brocaar/lorawan"
	"github.com/brocaar/lorawan/band"
)

// blockingNetwork blocks every uplink until release is closed.
type blockingNetwork struct {
	*LoopbackNetwork
	release chan struct{}
}

func (n *blockingNetwork) HandleUplink(ctx context.Context, up Uplink) (*Downlink, error) {
	<-n.release
	return n.LoopbackNetwork.HandleUplink(ctx, up)
}

type EngineTestSuite struct {
	suite.Suite

	network *LoopbackNetwork
	engine  *Engine

	devEUI lorawan.EUI64
	appEUI lorawan.EUI64
	appKey lorawan.AES128Key
}

func (ts *EngineTestSuite) SetupTest() {
	test.GetConfig()
	var err error

	ts.devEUI = lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}
	ts.appEUI = lorawan.EUI64{8, 7, 6, 5, 4, 3, 2, 1}
	ts.appKey = lorawan.AES128Key{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	ts.network = NewLoopbackNetwork(true, false)
	ts.engine, err = New(Config{
		Band:             band.US915,
		JoinAttempts:     2,
		ConfirmedRetries: 2,
		DutyCycle:        0.01,
		DataRate:         0,
	}, ts.network)
	ts.Require().NoError(err)
}

func (ts *EngineTestSuite) TearDownTest() {
	ts.engine.Close()
}

func (ts *EngineTestSuite) configureRadio() {
	ts.Require().NoError(ts.engine.ConfigureRadio(&hal.Radio{}))
}

func (ts *EngineTestSuite) join() {
	ts.configureRadio()
	ts.Require().NoError(ts.engine.StartOTAA(context.Background(), ts.devEUI, ts.appEUI, ts.appKey))
	ts.Equal(mac.EventJoined, ts.nextEvent().Type)
}

func (ts *EngineTestSuite) nextEvent() mac.Event {
	select {
	case ev := <-ts.engine.Events():
		return ev
	case <-time.After(time.Second):
		ts.FailNow("timeout waiting for event")
	}
	return mac.Event{}
}

func (ts *EngineTestSuite) TestNotConfigured() {
	assert := require.New(ts.T())

	assert.Equal(mac.ErrNotConfigured, ts.engine.StartOTAA(context.Background(), ts.devEUI, ts.appEUI, ts.appKey))
	assert.Equal(mac.ErrNotConfigured, ts.engine.Send(context.Background(), nil, 1, false))
}

func (ts *EngineTestSuite) TestJoin() {
	ts.T().Run("Accepted", func(t *testing.T) {
		ts.join()
	})

	ts.T().Run("Rejected", func(t *testing.T) {
		assert := require.New(t)
		ts.network.SetAcceptJoins(false)

		assert.NoError(ts.engine.StartOTAA(context.Background(), ts.devEUI, ts.appEUI, ts.appKey))
		assert.Equal(mac.EventJoinFailed, ts.nextEvent().Type)

		assert.Equal(mac.ErrNotJoined, ts.engine.Send(context.Background(), nil, 1, false))
	})
}

func (ts *EngineTestSuite) TestJoinRequest() {
	assert := require.New(ts.T())

	phy, err := ts.engine.joinRequest(ts.devEUI, ts.appEUI, ts.appKey)
	assert.NoError(err)
	assert.Equal(lorawan.JoinRequest, phy.MHDR.MType)

	ok, err := phy.ValidateUplinkJoinMIC(ts.appKey)
	assert.NoError(err)
	assert.True(ok)

	pl, ok := phy.MACPayload.(*lorawan.JoinRequestPayload)
	assert.True(ok)
	assert.Equal(ts.devEUI, pl.DevEUI)
	assert.Equal(ts.appEUI, pl.JoinEUI)
}

func (ts *EngineTestSuite) TestSend() {
	ts.join()

	ts.T().Run("Unconfirmed", func(t *testing.T) {
		assert := require.New(t)

		assert.NoError(ts.engine.Send(context.Background(), []byte{1, 2, 3}, 10, false))
		assert.Equal(mac.Event{Type: mac.EventTXComplete}, ts.nextEvent())
	})

	ts.T().Run("Confirmed", func(t *testing.T) {
		assert := require.New(t)

		assert.NoError(ts.engine.Send(context.Background(), []byte{1, 2, 3}, 10, true))
		assert.Equal(mac.Event{Type: mac.EventTXComplete, Acked: true}, ts.nextEvent())
	})

	ts.T().Run("Downlink", func(t *testing.T) {
		assert := require.New(t)
		ts.network.Enqueue(Downlink{Port: 20, Payload: []byte{4, 5, 6}})

		assert.NoError(ts.engine.Send(context.Background(), []byte{1}, 10, false))
		assert.Equal(mac.Event{Type: mac.EventMessageReceived, Port: 20, Payload: []byte{4, 5, 6}}, ts.nextEvent())
		assert.Equal(mac.Event{Type: mac.EventTXComplete}, ts.nextEvent())
	})

	ts.T().Run("Echo", func(t *testing.T) {
		assert := require.New(t)
		ts.network.SetEcho(true)
		defer ts.network.SetEcho(false)

		assert.NoError(ts.engine.Send(context.Background(), []byte{9, 8}, 15, false))
		assert.Equal(mac.Event{Type: mac.EventMessageReceived, Port: 15, Payload: []byte{9, 8}}, ts.nextEvent())
		assert.Equal(mac.Event{Type: mac.EventTXComplete}, ts.nextEvent())
	})

	ts.T().Run("No channels", func(t *testing.T) {
		assert := require.New(t)
		for sb := 0; sb < ts.engine.SubBandCount(); sb++ {
			ts.engine.DisableSubBand(sb)
		}
		defer ts.engine.EnableSubBand(0)

		assert.NoError(ts.engine.Send(context.Background(), []byte{1}, 10, false))
		assert.Equal(mac.EventTXFailed, ts.nextEvent().Type)
	})
}

func (ts *EngineTestSuite) TestBusy() {
	assert := require.New(ts.T())
	ts.join()

	network := &blockingNetwork{
		LoopbackNetwork: ts.network,
		release:         make(chan struct{}),
	}
	ts.engine.network = network

	assert.NoError(ts.engine.Send(context.Background(), []byte{1}, 10, false))
	assert.Equal(mac.ErrBusy, ts.engine.Send(context.Background(), []byte{2}, 10, false))
	assert.Equal(mac.ErrBusy, ts.engine.Reset())

	close(network.release)
	assert.Equal(mac.EventTXComplete, ts.nextEvent().Type)
}

func (ts *EngineTestSuite) TestChannels() {
	assert := require.New(ts.T())

	assert.Equal(9, ts.engine.SubBandCount())
	assert.Len(ts.engine.EnabledChannels(), 72)

	assert.False(ts.engine.EnableChannel(5))
	assert.True(ts.engine.DisableChannel(5))
	assert.False(ts.engine.DisableChannel(5))
	assert.True(ts.engine.EnableChannel(5))

	assert.False(ts.engine.EnableChannel(72))
	assert.False(ts.engine.DisableChannel(-1))

	for sb := 0; sb < ts.engine.SubBandCount(); sb++ {
		assert.True(ts.engine.DisableSubBand(sb))
	}
	assert.False(ts.engine.DisableSubBand(0))
	assert.True(ts.engine.EnableSubBand(2))
	assert.Equal([]int{16, 17, 18, 19, 20, 21, 22, 23}, ts.engine.EnabledChannels())

	assert.NoError(ts.engine.Reset())
	assert.Len(ts.engine.EnabledChannels(), 72)
}

func (ts *EngineTestSuite) TestLBTCalibration() {
	ts.engine.SetLBTCalibration(-4)
	ts.Equal(int8(-4), ts.engine.LBTCalibration())
}

func (ts *EngineTestSuite) TestClose() {
	assert := require.New(ts.T())
	ts.join()

	assert.NoError(ts.engine.Close())
	assert.NoError(ts.engine.Close())

	_, ok := <-ts.engine.Events()
	assert.False(ok)
	assert.Equal(mac.ErrClosed, ts.engine.Send(context.Background(), []byte{1}, 1, false))
	assert.Equal(mac.ErrClosed, ts.engine.StartOTAA(context.Background(), ts.devEUI, ts.appEUI, ts.appKey))
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func TestAirtime(t *testing.T) {
	assert := require.New(t)

	e, err := New(Config{Band: band.EU868, DataRate: 5}, NewLoopbackNetwork(true, false))
	assert.NoError(err)
	defer e.Close()

	short, err := e.airtime(13)
	assert.NoError(err)
	long, err := e.airtime(51)
	assert.NoError(err)

	assert.True(short > 0)
	assert.True(long > short)
}
