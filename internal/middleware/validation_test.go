package middleware

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidateMessageContent(t *testing.T) {
	assert.NoError(t, ValidateMessageContent("what is the refund policy?"))
	assert.Error(t, ValidateMessageContent(""))
	assert.Error(t, ValidateMessageContent(strings.Repeat("a", maxMessageLength+1)))
	assert.Error(t, ValidateMessageContent("bad utf8 \xff\xfe"))
}

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID(uuid.Must(uuid.NewV7()).String()))
	assert.NoError(t, ValidateSessionID("widget-visitor-42"), "opaque client ids are accepted")
	assert.Error(t, ValidateSessionID(""))
	assert.Error(t, ValidateSessionID(strings.Repeat("x", maxSessionIDLength+1)))
}

func TestValidateMessageID(t *testing.T) {
	assert.NoError(t, ValidateMessageID(uuid.New().String()))
	assert.Error(t, ValidateMessageID("not-a-uuid"))
}

func TestValidateTitle(t *testing.T) {
	assert.NoError(t, ValidateTitle(""))
	assert.NoError(t, ValidateTitle("Vacation policy questions"))
	assert.Error(t, ValidateTitle(strings.Repeat("t", 257)))
}
