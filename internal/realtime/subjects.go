package realtime

import "fmt"

// The following helpers build the stable subject names enumerated in
// spec §6.3. The handlers are the only place subjects are constructed:
// an event's scope (room, zone, player, global) decides its subject
// here, and anything outside this grammar never reaches the broker.

func SubjectChatSayRoom(roomID string) string   { return fmt.Sprintf("chat.say.room.%s", roomID) }
func SubjectChatLocalRoom(roomID string) string { return fmt.Sprintf("chat.local.room.%s", roomID) }
func SubjectChatZone(zoneID string) string      { return fmt.Sprintf("chat.zone.%s", zoneID) }
func SubjectChatSubzone(subZoneID string) string {
	return fmt.Sprintf("chat.subzone.%s", subZoneID)
}
func SubjectChatWhisperPlayer(playerID string) string {
	return fmt.Sprintf("chat.whisper.player.%s", playerID)
}
func SubjectChatGlobal() string { return "chat.global" }

func SubjectEventsPlayer(topic string) string { return fmt.Sprintf("events.player.%s", topic) }
func SubjectEventsRoom(roomID, topic string) string {
	return fmt.Sprintf("events.room.%s.%s", roomID, topic)
}

// SubjectAdminBroadcast carries admin broadcasts between processes,
// under the admin.* hierarchy peers subscribe to.
func SubjectAdminBroadcast() string { return "admin.broadcast" }

// SubjectChatAll is the subscription pattern covering every chat channel;
// `>` matches the one-or-more trailing tokens the channel grammars vary in.
const SubjectChatAll = "chat.>"

// SubjectAdminWildcard is the subscription pattern used for admin
// controls; admin.* matches exactly one trailing token.
const SubjectAdminWildcard = "admin.*"
