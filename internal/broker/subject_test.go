package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSubjectAccepts(t *testing.T) {
	cases := []string{
		"chat.say.room.42",
		"chat.global",
		"events.player.player_connected",
		"admin.kick",
		"chat.say.room.*",
		"events.room.42.>",
	}
	for _, subject := range cases {
		assert.NoError(t, ValidateSubject(subject), subject)
	}
}

func TestValidateSubjectRejects(t *testing.T) {
	cases := []string{
		"",
		"*",
		"*.*",
		"*.*.*",
		"*.chat.say",
		">.chat",
		"chat.say.room.4 2",
		"chat..room",
		"chat.say.room.*.*.*",
	}
	for _, subject := range cases {
		assert.Error(t, ValidateSubject(subject), subject)
	}
}

func TestBatchGroupKey(t *testing.T) {
	assert.Equal(t, "chat.say.room", batchGroupKey("chat.say.room.42"))
	assert.Equal(t, "chat", batchGroupKey("chat.global"))
}
