package login

import (
	"encoding/binary"

	"github.com/energizer-project/loginserver/internal/player"
	"github.com/energizer-project/loginserver/internal/protocol"
)

// Block and field identifiers of the login exchange.
const (
	BlockWelcome  uint16 = 0x0001
	BlockLogin    uint16 = 0x0C00
	BlockLoginAck uint16 = 0x0C01
	BlockPing     uint16 = 0x0A00
	BlockPong     uint16 = 0x0A01

	FieldServerID    uint16 = 0x0001
	FieldServerID2   uint16 = 0x0002
	FieldMOTD        uint16 = 0x0003
	FieldDescription uint16 = 0x0004
	FieldLoginName   uint16 = 0x0010
	FieldDisplayName uint16 = 0x0011
	FieldTag         uint16 = 0x0012
	FieldClientID    uint16 = 0x0020
	FieldTimestamp   uint16 = 0x0021
)

// State names.
const (
	StateHandshake = "handshake"
	StateLobby     = "lobby"
)

// FieldWidths is the width table for the login fields. Configured
// overrides are merged on top of it.
func FieldWidths() map[uint16]protocol.FieldWidth {
	return map[uint16]protocol.FieldWidth{
		FieldMOTD:        protocol.WidthString,
		FieldDescription: protocol.WidthString,
		FieldLoginName:   protocol.WidthString,
		FieldDisplayName: protocol.WidthString,
		FieldTag:         protocol.WidthString,
		FieldTimestamp:   8,
	}
}

// Greeting is the server information sent in the welcome block.
type Greeting struct {
	FirstID     uint32
	SecondID    uint32
	Description string
	MOTD        string
}

func uint32Field(id uint16, v uint32) protocol.EnumField {
	value := make([]byte, 4)
	binary.LittleEndian.PutUint32(value, v)
	return protocol.EnumField{ID: id, Value: value}
}

// reply encodes block and queues it on the player's outbound queue.
func reply(p *player.Player, codec *protocol.EnumBlockCodec, block *protocol.EnumBlockArray) {
	data, err := codec.Encode(block)
	if err != nil {
		p.Logger().Error().Err(err).Uint16("block", block.BlockID).Msg("failed to encode reply")
		return
	}
	if err := p.Send(data); err != nil {
		p.Logger().Warn().Err(err).Uint16("block", block.BlockID).Msg("failed to queue reply")
	}
}

// handshakeState greets the client and waits for its first request.
type handshakeState struct {
	p        *player.Player
	codec    *protocol.EnumBlockCodec
	greeting Greeting
}

// NewHandshake returns the initial state of every connection.
func NewHandshake(codec *protocol.EnumBlockCodec, greeting Greeting) player.StateConstructor {
	return func(p *player.Player) player.State {
		return &handshakeState{p: p, codec: codec, greeting: greeting}
	}
}

func (s *handshakeState) Name() string { return StateHandshake }

func (s *handshakeState) OnEnter() {
	reply(s.p, s.codec, &protocol.EnumBlockArray{
		BlockID: BlockWelcome,
		Fields: []protocol.EnumField{
			uint32Field(FieldServerID, s.greeting.FirstID),
			uint32Field(FieldServerID2, s.greeting.SecondID),
			{ID: FieldMOTD, Value: []byte(s.greeting.MOTD)},
			{ID: FieldDescription, Value: []byte(s.greeting.Description)},
		},
	})
}

func (s *handshakeState) OnExit() {}

func (s *handshakeState) HandleRequest(req protocol.Object) {
	if block, ok := req.(*protocol.EnumBlockArray); ok && block.BlockID == BlockLogin {
		login, _ := block.Field(FieldLoginName)
		display, _ := block.Field(FieldDisplayName)
		tag, _ := block.Field(FieldTag)
		s.p.SetLogin(string(login), string(display), string(tag))

		reply(s.p, s.codec, &protocol.EnumBlockArray{
			BlockID: BlockLoginAck,
			Fields:  []protocol.EnumField{uint32Field(FieldClientID, s.p.ID())},
		})
	} else {
		s.p.Logger().Debug().Uint16("block", req.ID()).Msg("request before login")
	}

	s.p.SetState(NewLobby(s.codec))
}

// lobbyState answers keepalives once the client is logged in.
type lobbyState struct {
	p     *player.Player
	codec *protocol.EnumBlockCodec
}

// NewLobby returns the state of a client past the handshake.
func NewLobby(codec *protocol.EnumBlockCodec) player.StateConstructor {
	return func(p *player.Player) player.State {
		return &lobbyState{p: p, codec: codec}
	}
}

func (s *lobbyState) Name() string { return StateLobby }

func (s *lobbyState) OnEnter() {
	s.p.Logger().Info().Str("player", s.p.String()).Msg("player entered lobby")
}

func (s *lobbyState) OnExit() {}

func (s *lobbyState) HandleRequest(req protocol.Object) {
	block, ok := req.(*protocol.EnumBlockArray)
	if !ok || block.BlockID != BlockPing {
		s.p.Logger().Debug().Uint16("block", req.ID()).Msg("unhandled request")
		return
	}

	pong := &protocol.EnumBlockArray{BlockID: BlockPong}
	if ts, ok := block.Field(FieldTimestamp); ok {
		pong.Fields = append(pong.Fields, protocol.EnumField{ID: FieldTimestamp, Value: ts})
	}
	reply(s.p, s.codec, pong)
}
