package internal

import "encoding/json"

// 入站訊息類型
const (
	MsgFinish          = "finish"
	MsgRequestFirstMap = "request_first_map"
)

// 出站訊息類型
const (
	MsgJoined        = "joined"
	MsgPlayerMode    = "player_mode"
	MsgSpectatorMode = "spectator_mode"
	MsgPlayerCount   = "player_count"
	MsgMatchStart    = "match_start"
	MsgMatchEnd      = "match_end"
	MsgMapChanged    = "map_changed"
)

// Envelope 只解析 type 欄位，其他欄位原樣轉發
type Envelope struct {
	Type string `json:"type"`
}

// OutboundMessage 伺服器下發的訊息
type OutboundMessage struct {
	Type     string `json:"type"`
	Room     string `json:"room,omitempty"`
	PlayerID string `json:"player_id,omitempty"`
	Map      string `json:"map,omitempty"`
	Count    *int   `json:"count,omitempty"`
}

func mustMarshal(msg OutboundMessage) []byte {
	// OutboundMessage 只含字串與整數，Marshal 不會失敗
	b, _ := json.Marshal(msg)
	return b
}

func joinedMessage(room, playerID string) []byte {
	return mustMarshal(OutboundMessage{Type: MsgJoined, Room: room, PlayerID: playerID})
}

func roleMessage(r Role) []byte {
	if r == RoleSpectator {
		return mustMarshal(OutboundMessage{Type: MsgSpectatorMode})
	}
	return mustMarshal(OutboundMessage{Type: MsgPlayerMode})
}

func playerCountMessage(n int) []byte {
	return mustMarshal(OutboundMessage{Type: MsgPlayerCount, Count: &n})
}

func matchStartMessage(mapID string) []byte {
	return mustMarshal(OutboundMessage{Type: MsgMatchStart, Map: mapID})
}

func matchEndMessage() []byte {
	return mustMarshal(OutboundMessage{Type: MsgMatchEnd})
}

func mapChangedMessage(mapID string) []byte {
	return mustMarshal(OutboundMessage{Type: MsgMapChanged, Map: mapID})
}
